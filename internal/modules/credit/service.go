// README: Credit service: opening obligations, penalty-adjusted returns, settlement.
package credit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"hemohive/internal/types"
)

var (
	ErrNotFound         = errors.New("credit: not found")
	ErrForbidden        = errors.New("credit: forbidden")
	ErrInvalidState     = errors.New("credit: invalid state")
	ErrDuplicateRequest = errors.New("credit: pending return already exists")
	ErrConflict         = errors.New("credit: bag id already in use")
	ErrBadRequest       = errors.New("credit: bad request")
)

type Service struct {
	store      *Store
	loanPeriod time.Duration
	log        zerolog.Logger
}

func NewService(store *Store, loanPeriod time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		loanPeriod: loanPeriod,
		log:        log.With().Str("module", "credit").Logger(),
	}
}

// OpenTx records a borrow obligation inside the caller's transaction.
// Satisfies request.CreditOpener, so a borrow request and its credit commit
// together.
func (s *Service) OpenTx(ctx context.Context, tx pgx.Tx, userID, requestID types.ID, group types.BloodGroup, units int) (types.ID, error) {
	c, err := s.newCredit(userID, requestID, group, units)
	if err != nil {
		return "", err
	}
	if err := s.store.CreateCreditTx(ctx, tx, c); err != nil {
		return "", err
	}
	return c.ID, nil
}

func (s *Service) newCredit(userID, requestID types.ID, group types.BloodGroup, units int) (*Credit, error) {
	if userID == "" || requestID == "" || !group.Valid() || units <= 0 {
		return nil, ErrBadRequest
	}
	now := time.Now()
	return &Credit{
		ID:        types.ID(uuid.NewString()),
		UserID:    userID,
		RequestID: requestID,
		Group:     group,
		Units:     units,
		DueAt:     now.Add(s.loanPeriod),
		Status:    StatusActive,
		CreatedAt: now,
	}, nil
}

func (s *Service) GetCredit(ctx context.Context, id types.ID) (*Credit, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.store.GetCredit(ctx, id)
}

// CreateReturn opens a pending return offer against an active credit, with
// the unit count already penalty-adjusted for overdue time.
func (s *Service) CreateReturn(ctx context.Context, creditID, userID, hospitalID types.ID) (*ReturnRequest, error) {
	if creditID == "" || userID == "" || hospitalID == "" {
		return nil, ErrBadRequest
	}
	c, err := s.store.GetCredit(ctx, creditID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrForbidden
	}
	if c.Status != StatusActive {
		return nil, ErrInvalidState
	}

	now := time.Now()
	r := &ReturnRequest{
		ID:         types.ID(uuid.NewString()),
		CreditID:   creditID,
		UserID:     userID,
		HospitalID: hospitalID,
		Units:      ReturnUnits(c.Units, c.DueAt, now),
		Status:     ReturnPending,
		CreatedAt:  now,
	}
	if err := s.store.CreateReturn(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info().Str("credit_id", string(creditID)).Int("units", r.Units).
		Int("days_overdue", DaysOverdue(c.DueAt, now)).Msg("return request opened")
	return r, nil
}

func (s *Service) ListReturns(ctx context.Context, hospitalID types.ID) ([]*ReturnRequest, error) {
	if hospitalID == "" {
		return nil, ErrBadRequest
	}
	return s.store.ListReturnsByHospital(ctx, hospitalID)
}

// ApproveReturn settles a pending return: mints the bag, clears the credit,
// credits the hospital's stock. Requires a globally unused bag id.
func (s *Service) ApproveReturn(ctx context.Context, returnID, actingHospital types.ID, bagID string, expiresAt time.Time) error {
	if bagID == "" || expiresAt.IsZero() {
		return ErrBadRequest
	}
	ret, err := s.store.GetReturn(ctx, returnID)
	if err != nil {
		return err
	}
	if ret.HospitalID != actingHospital {
		return ErrForbidden
	}
	if ret.Status != ReturnPending {
		return ErrInvalidState
	}
	c, err := s.store.GetCredit(ctx, ret.CreditID)
	if err != nil {
		return err
	}
	penalized := ret.Units > c.Units
	err = s.store.ApproveReturn(ctx, ret, BagSpec{
		RowID:     uuid.NewString(),
		BagID:     bagID,
		Group:     c.Group,
		ExpiresAt: expiresAt,
	}, penalized)
	if err == nil {
		s.log.Info().Str("return_id", string(returnID)).Str("bag_id", bagID).
			Bool("penalized", penalized).Msg("return approved")
	}
	return err
}

func (s *Service) RejectReturn(ctx context.Context, returnID, actingHospital types.ID, comments string) error {
	ret, err := s.store.GetReturn(ctx, returnID)
	if err != nil {
		return err
	}
	if ret.HospitalID != actingHospital {
		return ErrForbidden
	}
	if ret.Status != ReturnPending {
		return ErrInvalidState
	}
	return s.store.RejectReturn(ctx, returnID, comments)
}
