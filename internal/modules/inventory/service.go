// README: Inventory service: batch adds with per-item isolation, level queries.
package inventory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hemohive/internal/types"
)

var (
	ErrNotFound          = errors.New("inventory: not found")
	ErrBadRequest        = errors.New("inventory: bad request")
	ErrForbidden         = errors.New("inventory: forbidden")
	ErrInvalidState      = errors.New("inventory: invalid state")
	ErrDuplicateBag      = errors.New("inventory: duplicate bag id")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)

type Service struct {
	store *Store
	log   zerolog.Logger
}

func NewService(store *Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log.With().Str("module", "inventory").Logger()}
}

// AddBatch validates and persists each item independently; a bad or duplicate
// entry lands in the failure list without aborting the rest of the batch.
func (s *Service) AddBatch(ctx context.Context, hospitalID types.ID, items []AddItem) (AddReport, error) {
	if hospitalID == "" {
		return AddReport{}, ErrBadRequest
	}
	report := AddReport{Added: []string{}, Failed: []AddFailure{}}
	now := time.Now()

	for _, item := range items {
		if reason := validateItem(item, now); reason != "" {
			report.Failed = append(report.Failed, AddFailure{BagID: item.BagID, Reason: reason})
			continue
		}
		bag := &Bag{
			ID:        types.ID(uuid.NewString()),
			BagID:     item.BagID,
			Group:     item.Group,
			Units:     item.Units,
			ExpiresAt: item.ExpiresAt,
			OwnerID:   hospitalID,
			OriginID:  hospitalID,
			Status:    BagAvailable,
			CreatedAt: now,
		}
		err := s.store.InsertBag(ctx, bag)
		if errors.Is(err, ErrDuplicateBag) {
			report.Failed = append(report.Failed, AddFailure{BagID: item.BagID, Reason: "duplicate bag id"})
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("bag_id", item.BagID).Msg("insert bag")
			report.Failed = append(report.Failed, AddFailure{BagID: item.BagID, Reason: "internal error"})
			continue
		}
		report.Added = append(report.Added, item.BagID)
	}
	return report, nil
}

func validateItem(item AddItem, now time.Time) string {
	switch {
	case item.BagID == "":
		return "missing bag id"
	case !item.Group.Valid():
		return "unknown blood group"
	case item.Units <= 0:
		return "units must be positive"
	case !item.ExpiresAt.After(now):
		return "expiry must be in the future"
	}
	return ""
}

// ListForExchange puts an owned bag on the inter-facility exchange. The
// one-hop rule applies: a bag that already changed hands once stays off.
func (s *Service) ListForExchange(ctx context.Context, hospitalID types.ID, bagID string) (*Bag, error) {
	if hospitalID == "" || strings.TrimSpace(bagID) == "" {
		return nil, ErrBadRequest
	}
	bag, err := s.store.GetBag(ctx, bagID)
	if err != nil {
		return nil, err
	}
	if bag.OwnerID != hospitalID {
		return nil, ErrForbidden
	}
	if !bag.Eligible() {
		return nil, ErrInvalidState
	}
	if err := s.store.MarkListed(ctx, bag.ID); err != nil {
		return nil, err
	}
	bag.Status = BagListed
	s.log.Info().Str("bag_id", bag.BagID).Str("hospital_id", string(hospitalID)).Msg("bag listed for exchange")
	return bag, nil
}

// Unlist takes a bag off the exchange, returning it to AVAILABLE.
func (s *Service) Unlist(ctx context.Context, hospitalID types.ID, bagID string) error {
	if hospitalID == "" || strings.TrimSpace(bagID) == "" {
		return ErrBadRequest
	}
	bag, err := s.store.GetBag(ctx, bagID)
	if err != nil {
		return err
	}
	if bag.OwnerID != hospitalID {
		return ErrForbidden
	}
	return s.store.MarkAvailable(ctx, bag.ID)
}

func (s *Service) Levels(ctx context.Context, hospitalID types.ID) ([]Level, error) {
	if hospitalID == "" {
		return nil, ErrBadRequest
	}
	return s.store.ListLevels(ctx, hospitalID)
}

func (s *Service) Level(ctx context.Context, hospitalID types.ID, group types.BloodGroup) (Level, error) {
	if hospitalID == "" || !group.Valid() {
		return Level{}, ErrBadRequest
	}
	return s.store.GetLevel(ctx, hospitalID, group)
}
