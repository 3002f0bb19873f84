// README: Blood request service: creation (with borrow credits) and hospital approval.
package request

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
	ErrNotFound          = errors.New("request: not found")
	ErrForbidden         = errors.New("request: forbidden")
	ErrInvalidState      = errors.New("request: invalid state")
	ErrInsufficientStock = errors.New("request: insufficient stock")
	ErrBadRequest        = errors.New("request: bad request")
)

// CreditOpener creates the borrow obligation recorded alongside a borrow
// request, inside the caller's transaction. Implemented by the credit module.
type CreditOpener interface {
	OpenTx(ctx context.Context, tx pgx.Tx, userID, requestID types.ID, group types.BloodGroup, units int) (types.ID, error)
}

type Service struct {
	store   *Store
	credits CreditOpener
	log     zerolog.Logger
}

func NewService(store *Store, credits CreditOpener, log zerolog.Logger) *Service {
	return &Service{store: store, credits: credits, log: log.With().Str("module", "request").Logger()}
}

type CreateCommand struct {
	RequesterID types.ID
	HospitalID  *types.ID
	Group       types.BloodGroup
	Units       int
	Urgency     Urgency
	Reason      string
	IsBorrow    bool
	ExpiresAt   *time.Time
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	if cmd.RequesterID == "" || !cmd.Group.Valid() || cmd.Units <= 0 {
		return "", ErrBadRequest
	}
	if cmd.Urgency == "" {
		cmd.Urgency = UrgencyNormal
	}
	if !cmd.Urgency.Valid() {
		return "", ErrBadRequest
	}

	r := &Request{
		ID:            types.ID(uuid.NewString()),
		RequesterID:   cmd.RequesterID,
		HospitalID:    cmd.HospitalID,
		Group:         cmd.Group,
		Units:         cmd.Units,
		Urgency:       cmd.Urgency,
		Status:        StatusPending,
		Reason:        cmd.Reason,
		IsBorrow:      cmd.IsBorrow,
		PaymentStatus: "UNPAID",
		ExpiresAt:     cmd.ExpiresAt,
		CreatedAt:     time.Now(),
	}
	// A borrow request and its credit land in one transaction; a borrow must
	// never exist without its obligation.
	if cmd.IsBorrow && s.credits != nil {
		var creditID types.ID
		err := s.store.CreateWithCredit(ctx, r, func(ctx context.Context, tx pgx.Tx) error {
			id, err := s.credits.OpenTx(ctx, tx, cmd.RequesterID, r.ID, cmd.Group, cmd.Units)
			creditID = id
			return err
		})
		if err != nil {
			return "", err
		}
		s.log.Info().Str("request_id", string(r.ID)).Str("credit_id", string(creditID)).Msg("credit opened")
		return r.ID, nil
	}

	if err := s.store.Create(ctx, r); err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Request, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.store.Get(ctx, id)
}

func (s *Service) PendingQueue(ctx context.Context, hospitalID types.ID) ([]*Request, error) {
	if hospitalID == "" {
		return nil, ErrBadRequest
	}
	return s.store.ListPendingForHospital(ctx, hospitalID)
}

// Approve claims and approves a pending request, debiting stock atomically.
func (s *Service) Approve(ctx context.Context, id, actingHospital types.ID) error {
	if id == "" || actingHospital == "" {
		return ErrBadRequest
	}
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.HospitalID != nil && *r.HospitalID != actingHospital {
		return ErrForbidden
	}
	if r.Status != StatusPending {
		return ErrInvalidState
	}
	err = s.store.Approve(ctx, id, actingHospital, r.Group, r.Units)
	if err == nil {
		s.log.Info().Str("request_id", string(id)).Str("hospital_id", string(actingHospital)).
			Int("units", r.Units).Str("group", string(r.Group)).Msg("request approved")
	}
	return err
}

func (s *Service) Reject(ctx context.Context, id, actingHospital types.ID) error {
	if id == "" || actingHospital == "" {
		return ErrBadRequest
	}
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.HospitalID != nil && *r.HospitalID != actingHospital {
		return ErrForbidden
	}
	if r.Status != StatusPending {
		return ErrInvalidState
	}
	return s.store.Reject(ctx, id, actingHospital)
}
