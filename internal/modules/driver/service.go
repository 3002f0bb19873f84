// README: Driver registry service: availability, blocking, location snapshots.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hemohive/internal/types"
)

var (
	ErrNotFound     = errors.New("driver: not found")
	ErrBadRequest   = errors.New("driver: bad request")
	ErrInvalidState = errors.New("driver: invalid state")
)

type Service struct {
	store *Store
	log   zerolog.Logger
}

func NewService(store *Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log.With().Str("module", "driver").Logger()}
}

type RegisterCommand struct {
	UserID  types.ID
	Phone   string
	Vehicle string
}

// Register creates a driver record in OFFLINE state. Availability is a
// separate, explicit step. One profile per user: re-registering returns the
// existing driver id.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (types.ID, error) {
	if cmd.UserID == "" {
		return "", ErrBadRequest
	}
	existing, err := s.store.GetByUserID(ctx, cmd.UserID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	d := &Driver{
		ID:        types.ID(uuid.NewString()),
		UserID:    cmd.UserID,
		Status:    StatusOffline,
		Phone:     cmd.Phone,
		Vehicle:   cmd.Vehicle,
		CreatedAt: time.Now(),
	}
	if err := s.store.Create(ctx, d); err != nil {
		return "", err
	}
	s.log.Info().Str("driver_id", string(d.ID)).Str("user_id", string(cmd.UserID)).Msg("driver registered")
	return d.ID, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.store.Get(ctx, id)
}

// GetByUser resolves the driver profile behind an authenticated user id.
func (s *Service) GetByUser(ctx context.Context, userID types.ID) (*Driver, error) {
	if userID == "" {
		return nil, ErrBadRequest
	}
	return s.store.GetByUserID(ctx, userID)
}

// SetAvailability moves a driver between OFFLINE and ONLINE. BUSY is owned by
// dispatch and cannot be set or left through this path.
func (s *Service) SetAvailability(ctx context.Context, id types.ID, to Status) error {
	if id == "" || (to != StatusOnline && to != StatusOffline) {
		return ErrBadRequest
	}
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Status == to {
		return nil
	}
	if d.Status == StatusBusy {
		return ErrInvalidState
	}
	ok, err := s.store.SetStatus(ctx, id, d.Status, to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidState
	}

	// Presence mirrors availability; a driver with no known location simply
	// stays out of the GEO set and is reached via the registration fallback.
	if to == StatusOnline && d.Location != nil {
		if err := s.store.AddPresence(ctx, id, *d.Location); err != nil {
			s.log.Warn().Err(err).Str("driver_id", string(id)).Msg("geo add failed")
		}
	}
	if to == StatusOffline {
		if err := s.store.RemovePresence(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("driver_id", string(id)).Msg("geo remove failed")
		}
	}
	return nil
}

func (s *Service) SetBlocked(ctx context.Context, id types.ID, blocked bool) error {
	if id == "" {
		return ErrBadRequest
	}
	if err := s.store.SetBlocked(ctx, id, blocked); err != nil {
		return err
	}
	if blocked {
		_ = s.store.RemovePresence(ctx, id)
	}
	return nil
}

// UpdateLocation overwrites the snapshot and refreshes GEO presence for
// ONLINE drivers. No bounds or staleness validation is applied.
func (s *Service) UpdateLocation(ctx context.Context, id types.ID, p types.Point) error {
	if id == "" {
		return ErrBadRequest
	}
	if err := s.store.UpdateLocation(ctx, id, p, time.Now()); err != nil {
		return err
	}
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Status == StatusOnline && !d.Blocked {
		if err := s.store.AddPresence(ctx, id, p); err != nil {
			s.log.Warn().Err(err).Str("driver_id", string(id)).Msg("geo refresh failed")
		}
	}
	return nil
}

// Candidates returns dispatchable drivers. When a pickup point is known the
// GEO set supplies nearest-first candidates; the Postgres listing backfills
// drivers without presence data and serves as the Redis-outage fallback.
func (s *Service) Candidates(ctx context.Context, pickup *types.Point, radiusKm float64) ([]Candidate, error) {
	selectable, err := s.store.ListSelectable(ctx)
	if err != nil {
		return nil, err
	}
	if pickup == nil {
		return selectable, nil
	}

	near, err := s.store.NearbyPresence(ctx, *pickup, radiusKm)
	if err != nil {
		s.log.Warn().Err(err).Msg("geo search failed; falling back to registration order")
		return selectable, nil
	}

	// The GEO set may contain drivers that have since gone BUSY or blocked;
	// intersect against the authoritative Postgres listing.
	eligible := make(map[types.ID]Candidate, len(selectable))
	for _, c := range selectable {
		eligible[c.ID] = c
	}
	out := make([]Candidate, 0, len(selectable))
	seen := make(map[types.ID]struct{}, len(near))
	for _, n := range near {
		base, ok := eligible[n.ID]
		if !ok {
			continue
		}
		n.CreatedAt = base.CreatedAt
		out = append(out, n)
		seen[n.ID] = struct{}{}
	}
	for _, c := range selectable {
		if _, ok := seen[c.ID]; !ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// MarkFreed returns a driver to ONLINE after a completed or cancelled
// delivery and restores presence when a location is known.
func (s *Service) MarkFreed(ctx context.Context, id types.ID) {
	d, err := s.store.Get(ctx, id)
	if err != nil || d.Status != StatusOnline || d.Blocked || d.Location == nil {
		return
	}
	if err := s.store.AddPresence(ctx, id, *d.Location); err != nil {
		s.log.Warn().Err(err).Str("driver_id", string(id)).Msg("geo restore failed")
	}
}

// DropPresence removes a driver from the GEO set, used once dispatch locks a
// driver BUSY.
func (s *Service) DropPresence(ctx context.Context, id types.ID) {
	if err := s.store.RemovePresence(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("driver_id", string(id)).Msg("geo remove failed")
	}
}
