// README: Dispatch service: driver search, offer lifecycle, code verification, expiry sweep.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hemohive/internal/config"
	"hemohive/internal/modules/driver"
	"hemohive/internal/types"
)

var (
	ErrNotFound          = errors.New("dispatch: delivery not found")
	ErrInvalidState      = errors.New("dispatch: invalid state")
	ErrConflict          = errors.New("dispatch: state conflict")
	ErrOfferExpired      = errors.New("dispatch: offer expired")
	ErrInvalidCode       = errors.New("dispatch: invalid code")
	ErrNoDriverAvailable = errors.New("dispatch: no driver available")
	ErrDriverUnavailable = errors.New("dispatch: driver unavailable")
	ErrBadRequest        = errors.New("dispatch: bad request")
)

// DriverRegistry is the slice of the driver module dispatch consumes.
type DriverRegistry interface {
	Candidates(ctx context.Context, pickup *types.Point, radiusKm float64) ([]driver.Candidate, error)
	UpdateLocation(ctx context.Context, id types.ID, p types.Point) error
	DropPresence(ctx context.Context, id types.ID)
	MarkFreed(ctx context.Context, id types.ID)
}

// ETAEstimator annotates proposals with a driving estimate. Optional; a nil
// estimator just leaves proposals without one.
type ETAEstimator interface {
	Estimate(ctx context.Context, origin, destination types.Point) (time.Duration, string, error)
}

type Service struct {
	store   *Store
	drivers DriverRegistry
	eta     ETAEstimator
	cfg     config.DispatchConfig
	log     zerolog.Logger
}

func NewService(store *Store, drivers DriverRegistry, eta ETAEstimator, cfg config.DispatchConfig, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		drivers: drivers,
		eta:     eta,
		cfg:     cfg,
		log:     log.With().Str("module", "dispatch").Logger(),
	}
}

// Proposal is the outcome of a successful driver search.
type Proposal struct {
	DeliveryID types.ID   `json:"delivery_id"`
	DriverID   types.ID   `json:"driver_id"`
	Deadline   time.Time  `json:"acceptance_deadline"`
	ETA        string     `json:"eta,omitempty"`
	DistanceKm *float64   `json:"distance_km,omitempty"`
}

// CreateForRequest creates a delivery bound to an approved request (binding
// the earliest-expiring matching bag when one exists) and runs the first
// driver search. When the request already has a live delivery stuck in
// SEARCHING without an open offer, the search is re-triggered instead.
func (s *Service) CreateForRequest(ctx context.Context, requestID types.ID) (*Delivery, *Proposal, error) {
	if requestID == "" {
		return nil, nil, ErrBadRequest
	}
	meta, err := s.store.GetRequestMeta(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}

	active, err := s.store.HasActiveByRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if active {
		d, err := s.store.GetByRequest(ctx, requestID)
		if err != nil {
			return nil, nil, err
		}
		if d.Status != StatusSearching || d.HasLiveProposal(time.Now()) {
			return nil, nil, ErrConflict
		}
		p, err := s.InitiateSearch(ctx, d.ID)
		if errors.Is(err, ErrNoDriverAvailable) {
			return d, nil, nil
		}
		return d, p, err
	}

	if meta.Status != "APPROVED" {
		return nil, nil, ErrInvalidState
	}

	d := &Delivery{
		ID:                types.ID(uuid.NewString()),
		RequestID:         requestID,
		RejectedDriverIDs: []types.ID{},
		PickupCode:        newCode(),
		DropoffCode:       newCode(),
		Status:            StatusSearching,
		CreatedAt:         time.Now(),
	}
	if meta.HospitalID != nil {
		bagID, err := s.store.PickBag(ctx, *meta.HospitalID, meta.Group)
		if err != nil {
			return nil, nil, err
		}
		d.BagID = bagID
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, nil, err
	}
	_ = s.store.AppendEvent(ctx, &Event{
		DeliveryID: d.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusSearching,
		ActorType:  "system",
	})

	// An empty pool is not a failure; the delivery stays SEARCHING and the
	// sweep retries as drivers come online.
	p, err := s.InitiateSearch(ctx, d.ID)
	if errors.Is(err, ErrNoDriverAvailable) {
		return d, nil, nil
	}
	return d, p, err
}

// InitiateSearch proposes the best-ranked eligible driver: ONLINE, not
// blocked, not previously rejected for this delivery. The delivery stays
// SEARCHING when the pool is empty.
func (s *Service) InitiateSearch(ctx context.Context, deliveryID types.ID) (*Proposal, error) {
	d, err := s.store.Get(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusSearching {
		return nil, ErrInvalidState
	}
	if d.HasLiveProposal(time.Now()) {
		return nil, ErrConflict
	}
	// A dangling expired proposal is recycled as a timeout rejection before
	// searching again.
	if d.ProposedDriverID != nil {
		if err := s.recycleProposal(ctx, d); err != nil {
			return nil, err
		}
		d, err = s.store.Get(ctx, deliveryID)
		if err != nil {
			return nil, err
		}
	}

	meta, err := s.store.GetRequestMeta(ctx, d.RequestID)
	if err != nil {
		return nil, err
	}

	pool, err := s.drivers.Candidates(ctx, meta.Pickup, s.cfg.SearchRadiusKm)
	if err != nil {
		return nil, err
	}
	ranked := rankCandidates(pool, excludeSet(d))
	if len(ranked) == 0 {
		s.log.Info().Str("delivery_id", string(d.ID)).Msg("driver pool exhausted")
		return nil, ErrNoDriverAvailable
	}

	pick := ranked[0]
	deadline := time.Now().Add(s.cfg.AcceptanceWindow)
	ok, err := s.store.SetProposal(ctx, d.ID, d.StatusVersion, pick.ID, deadline)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	p := &Proposal{DeliveryID: d.ID, DriverID: pick.ID, Deadline: deadline}
	if pick.HasGeo {
		dist := pick.DistanceKm
		p.DistanceKm = &dist
	}
	if s.eta != nil && meta.Pickup != nil && pick.Position != nil {
		// Best effort; a Maps hiccup never blocks dispatch.
		if _, human, err := s.eta.Estimate(ctx, *pick.Position, *meta.Pickup); err == nil {
			p.ETA = human
		} else {
			s.log.Debug().Err(err).Msg("eta estimate unavailable")
		}
	}

	// Notification dispatch is an external collaborator; the proposal is
	// logged and surfaced through the API.
	s.log.Info().
		Str("delivery_id", string(d.ID)).
		Str("driver_id", string(pick.ID)).
		Time("deadline", deadline).
		Msg("driver proposed")
	return p, nil
}

// Accept assigns the delivery to the driver. The driver must match the open
// proposal; an assignment with no proposal set is treated as open. An elapsed
// deadline recycles the offer and reports it expired.
func (s *Service) Accept(ctx context.Context, deliveryID, driverID types.ID) error {
	if deliveryID == "" || driverID == "" {
		return ErrBadRequest
	}
	d, err := s.store.Get(ctx, deliveryID)
	if err != nil {
		return err
	}
	if d.Status != StatusSearching {
		return ErrInvalidState
	}
	if d.ProposedDriverID != nil {
		if *d.ProposedDriverID != driverID {
			return ErrOfferExpired
		}
		if d.AcceptanceDeadline != nil && time.Now().After(*d.AcceptanceDeadline) {
			if err := s.recycleProposal(ctx, d); err == nil {
				go s.searchAsync(d.ID)
			}
			return ErrOfferExpired
		}
	}
	if d.Rejected(driverID) {
		return ErrOfferExpired
	}

	if err := s.store.Accept(ctx, d.ID, d.StatusVersion, driverID); err != nil {
		return err
	}
	s.drivers.DropPresence(ctx, driverID)
	s.log.Info().Str("delivery_id", string(d.ID)).Str("driver_id", string(driverID)).Msg("delivery assigned")
	return nil
}

// Reject declines the open proposal and immediately re-searches. The reason
// ("manual" or "timeout") only lands in the audit log.
func (s *Service) Reject(ctx context.Context, deliveryID types.ID, reason string) (*Proposal, error) {
	if deliveryID == "" {
		return nil, ErrBadRequest
	}
	d, err := s.store.Get(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusSearching {
		return nil, ErrInvalidState
	}

	if d.ProposedDriverID != nil {
		rejected := *d.ProposedDriverID
		ok, err := s.store.RecordRejection(ctx, d.ID, d.StatusVersion, rejected)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}
		if reason == "" {
			reason = "manual"
		}
		_ = s.store.AppendEvent(ctx, &Event{
			DeliveryID: d.ID,
			FromStatus: StatusSearching,
			ToStatus:   StatusSearching,
			ActorType:  "driver",
			ActorID:    &rejected,
			Reason:     reason,
		})
	}

	// The rejection above is durably recorded either way; an empty pool just
	// leaves the delivery SEARCHING for the sweep to retry.
	p, err := s.InitiateSearch(ctx, deliveryID)
	if errors.Is(err, ErrNoDriverAvailable) {
		return nil, nil
	}
	return p, err
}

// VerifyPickup advances an assigned delivery on a matching pickup code.
func (s *Service) VerifyPickup(ctx context.Context, deliveryID types.ID, code string) error {
	d, err := s.store.Get(ctx, deliveryID)
	if err != nil {
		return err
	}
	if d.Status != StatusAssigned {
		return ErrInvalidState
	}
	if code == "" || code != d.PickupCode {
		return ErrInvalidCode
	}
	return s.store.MarkPickedUp(ctx, d.ID, d.StatusVersion)
}

// VerifyDropoff completes the delivery on a matching dropoff code and
// reconciles bag, stock, request, and driver atomically. A second call finds
// the delivery DELIVERED and fails with ErrInvalidState, so stock is never
// debited twice.
func (s *Service) VerifyDropoff(ctx context.Context, deliveryID types.ID, code string) error {
	d, err := s.store.Get(ctx, deliveryID)
	if err != nil {
		return err
	}
	if d.Status != StatusPickedUp {
		return ErrInvalidState
	}
	if code == "" || code != d.DropoffCode {
		return ErrInvalidCode
	}
	if err := s.store.CompleteDropoff(ctx, d); err != nil {
		return err
	}
	if d.DriverID != nil {
		s.drivers.MarkFreed(ctx, *d.DriverID)
	}
	s.log.Info().Str("delivery_id", string(d.ID)).Msg("delivery completed")
	return nil
}

// Cancel terminates the delivery from any non-terminal state.
func (s *Service) Cancel(ctx context.Context, deliveryID types.ID, actorType, reason string) error {
	d, err := s.store.Get(ctx, deliveryID)
	if err != nil {
		return err
	}
	if !CanTransition(d.Status, StatusCancelled) {
		return ErrInvalidState
	}
	if err := s.store.Cancel(ctx, d, actorType, reason); err != nil {
		return err
	}
	if d.DriverID != nil {
		s.drivers.MarkFreed(ctx, *d.DriverID)
	}
	return nil
}

// UpdateLocation overwrites the driver's position and, when a delivery is
// named, appends to its route log.
func (s *Service) UpdateLocation(ctx context.Context, driverID types.ID, p types.Point, deliveryID *types.ID) error {
	if driverID == "" {
		return ErrBadRequest
	}
	if err := s.drivers.UpdateLocation(ctx, driverID, p); err != nil {
		return err
	}
	if deliveryID != nil {
		if err := s.store.AppendRoutePoint(ctx, *deliveryID, p, time.Now()); err != nil {
			s.log.Warn().Err(err).Str("delivery_id", string(*deliveryID)).Msg("route append failed")
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Delivery, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.store.Get(ctx, id)
}

func (s *Service) Route(ctx context.Context, id types.ID) ([]RoutePoint, error) {
	return s.store.ListRoute(ctx, id)
}

// recycleProposal converts a stale offer into a timeout rejection.
func (s *Service) recycleProposal(ctx context.Context, d *Delivery) error {
	rejected := *d.ProposedDriverID
	ok, err := s.store.RecordRejection(ctx, d.ID, d.StatusVersion, rejected)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		DeliveryID: d.ID,
		FromStatus: StatusSearching,
		ToStatus:   StatusSearching,
		ActorType:  "system",
		ActorID:    &rejected,
		Reason:     "timeout",
	})
	return nil
}

func (s *Service) searchAsync(deliveryID types.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.InitiateSearch(ctx, deliveryID); err != nil && !errors.Is(err, ErrNoDriverAvailable) {
		s.log.Warn().Err(err).Str("delivery_id", string(deliveryID)).Msg("re-search failed")
	}
}

// RunExpirySweep recycles elapsed offers on a fixed tick until the context
// ends. This is the active counterpart to the lazy deadline check in Accept.
func (s *Service) RunExpirySweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	ids, err := s.store.ListExpiredSearching(ctx, time.Now(), 50)
	if err != nil {
		s.log.Error().Err(err).Msg("expiry sweep query failed")
		return
	}
	for _, id := range ids {
		if _, err := s.Reject(ctx, id, "timeout"); err != nil &&
			!errors.Is(err, ErrConflict) {
			s.log.Warn().Err(err).Str("delivery_id", string(id)).Msg("expiry recycle failed")
		}
	}
}
