// README: Delivery store backed by PostgreSQL; multi-row transitions run in single transactions.
package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hemohive/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, d *Delivery) error {
	rejected := make([]string, len(d.RejectedDriverIDs))
	for i, id := range d.RejectedDriverIDs {
		rejected[i] = string(id)
	}
	_, err := s.db.Exec(ctx, `
        INSERT INTO deliveries (
            id, request_id, bag_id, driver_id, proposed_driver_id, acceptance_deadline,
            rejected_driver_ids, pickup_code, dropoff_code, status, status_version, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(d.ID), string(d.RequestID), d.BagID, idPtr(d.DriverID), idPtr(d.ProposedDriverID),
		d.AcceptanceDeadline, rejected, d.PickupCode, d.DropoffCode,
		string(d.Status), d.StatusVersion, d.CreatedAt,
	)
	return err
}

const selectDelivery = `
        SELECT id, request_id, bag_id, driver_id, proposed_driver_id, acceptance_deadline,
               rejected_driver_ids, pickup_code, dropoff_code, status, status_version,
               started_at, ended_at, created_at
        FROM deliveries`

func (s *Store) Get(ctx context.Context, id types.ID) (*Delivery, error) {
	return scanDelivery(s.db.QueryRow(ctx, selectDelivery+` WHERE id = $1`, string(id)))
}

// GetByRequest returns the most recent delivery bound to a request, if any.
func (s *Store) GetByRequest(ctx context.Context, requestID types.ID) (*Delivery, error) {
	return scanDelivery(s.db.QueryRow(ctx,
		selectDelivery+` WHERE request_id = $1 ORDER BY created_at DESC LIMIT 1`,
		string(requestID)))
}

// HasActiveByRequest reports whether a non-terminal delivery already exists
// for the request.
func (s *Store) HasActiveByRequest(ctx context.Context, requestID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM deliveries
            WHERE request_id = $1 AND status IN ('SEARCHING','ASSIGNED','PICKED_UP')
        )`, string(requestID))
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*Delivery, error) {
	var d Delivery
	var bagID, driverID, proposedID sql.NullString
	var deadline, startedAt, endedAt sql.NullTime
	var rejected []string
	err := row.Scan(
		&d.ID, &d.RequestID, &bagID, &driverID, &proposedID, &deadline,
		&rejected, &d.PickupCode, &d.DropoffCode, &d.Status, &d.StatusVersion,
		&startedAt, &endedAt, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if bagID.Valid {
		d.BagID = &bagID.String
	}
	d.DriverID = nullID(driverID)
	d.ProposedDriverID = nullID(proposedID)
	d.AcceptanceDeadline = nullTime(deadline)
	d.StartedAt = nullTime(startedAt)
	d.EndedAt = nullTime(endedAt)
	d.RejectedDriverIDs = make([]types.ID, len(rejected))
	for i, r := range rejected {
		d.RejectedDriverIDs[i] = types.ID(r)
	}
	return &d, nil
}

// SetProposal records a driver offer with its acceptance deadline. Only a
// SEARCHING delivery at the expected version takes the proposal.
func (s *Store) SetProposal(ctx context.Context, id types.ID, version int, driverID types.ID, deadline time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE deliveries
        SET proposed_driver_id = $3, acceptance_deadline = $4,
            status_version = status_version + 1
        WHERE id = $1 AND status = 'SEARCHING' AND status_version = $2`,
		string(id), version, string(driverID), deadline,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordRejection appends the proposed driver to the rejected set (set
// semantics, never a duplicate) and clears the proposal and deadline
// together.
func (s *Store) RecordRejection(ctx context.Context, id types.ID, version int, rejectedID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE deliveries
        SET rejected_driver_ids = CASE
                WHEN $3 = ANY(rejected_driver_ids) THEN rejected_driver_ids
                ELSE array_append(rejected_driver_ids, $3)
            END,
            proposed_driver_id = NULL,
            acceptance_deadline = NULL,
            status_version = status_version + 1
        WHERE id = $1 AND status = 'SEARCHING' AND status_version = $2`,
		string(id), version, string(rejectedID),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Accept assigns the driver and locks them BUSY in one transaction. Both the
// delivery flip and the driver flip carry their guards in the UPDATE, so two
// racing accepts (or an accept racing a cancel) cannot both win, and a driver
// who has gone OFFLINE or BUSY elsewhere cannot be assigned.
func (s *Store) Accept(ctx context.Context, id types.ID, version int, driverID types.ID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE deliveries
        SET status = 'ASSIGNED', driver_id = $3,
            proposed_driver_id = NULL, acceptance_deadline = NULL,
            status_version = status_version + 1
        WHERE id = $1 AND status = 'SEARCHING' AND status_version = $2`,
		string(id), version, string(driverID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	tag, err = tx.Exec(ctx, `
        UPDATE drivers SET status = 'BUSY'
        WHERE id = $1 AND status = 'ONLINE' AND NOT blocked`,
		string(driverID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDriverUnavailable
	}

	if err := appendEvent(ctx, tx, &Event{
		DeliveryID: id,
		FromStatus: StatusSearching,
		ToStatus:   StatusAssigned,
		ActorType:  "driver",
		ActorID:    &driverID,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkPickedUp advances ASSIGNED → PICKED_UP and stamps the start time.
func (s *Store) MarkPickedUp(ctx context.Context, id types.ID, version int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE deliveries
        SET status = 'PICKED_UP', started_at = NOW(),
            status_version = status_version + 1
        WHERE id = $1 AND status = 'ASSIGNED' AND status_version = $2`,
		string(id), version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	if err := appendEvent(ctx, tx, &Event{
		DeliveryID: id,
		FromStatus: StatusAssigned,
		ToStatus:   StatusPickedUp,
		ActorType:  "driver",
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CompleteDropoff finishes the delivery and reconciles everything it touched
// in a single transaction: the bound bag is consumed, the owning hospital's
// counter debited (clamped at zero during reconciliation), the request marked
// FULFILLED, and the driver freed with their counter bumped.
func (s *Store) CompleteDropoff(ctx context.Context, d *Delivery) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE deliveries
        SET status = 'DELIVERED', ended_at = NOW(),
            status_version = status_version + 1
        WHERE id = $1 AND status = 'PICKED_UP' AND status_version = $2`,
		string(d.ID), d.StatusVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	// Resolve what the dropoff consumes: the bound bag when one exists,
	// otherwise a single unit at the request's hospital.
	var hospitalID, group string
	units := 1
	if d.BagID != nil {
		row := tx.QueryRow(ctx, `
            SELECT owner_hospital_id, blood_group, units
            FROM blood_bags WHERE bag_id = $1 FOR UPDATE`, *d.BagID)
		switch err := row.Scan(&hospitalID, &group, &units); {
		case errors.Is(err, pgx.ErrNoRows):
			d.BagID = nil
		case err != nil:
			return err
		default:
			if _, err := tx.Exec(ctx,
				`DELETE FROM blood_bags WHERE bag_id = $1`, *d.BagID); err != nil {
				return err
			}
		}
	}
	if d.BagID == nil {
		row := tx.QueryRow(ctx, `
            SELECT COALESCE(hospital_id, ''), blood_group
            FROM blood_requests WHERE id = $1`, string(d.RequestID))
		if err := row.Scan(&hospitalID, &group); err != nil {
			return err
		}
	}
	if hospitalID != "" {
		if _, err := tx.Exec(ctx, `
            UPDATE inventory SET quantity = GREATEST(quantity - $3, 0)
            WHERE hospital_id = $1 AND blood_group = $2`,
			hospitalID, group, units,
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
        UPDATE blood_requests SET status = 'FULFILLED'
        WHERE id = $1 AND status = 'APPROVED'`,
		string(d.RequestID),
	); err != nil {
		return err
	}

	if d.DriverID != nil {
		if _, err := tx.Exec(ctx, `
            UPDATE drivers
            SET status = 'ONLINE', deliveries_completed = deliveries_completed + 1
            WHERE id = $1 AND status = 'BUSY'`,
			string(*d.DriverID),
		); err != nil {
			return err
		}
	}

	if err := appendEvent(ctx, tx, &Event{
		DeliveryID: d.ID,
		FromStatus: StatusPickedUp,
		ToStatus:   StatusDelivered,
		ActorType:  "driver",
		ActorID:    d.DriverID,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Cancel terminates the delivery from any non-terminal state and frees an
// assigned driver in the same transaction.
func (s *Store) Cancel(ctx context.Context, d *Delivery, actorType, reason string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE deliveries
        SET status = 'CANCELLED', ended_at = NOW(),
            proposed_driver_id = NULL, acceptance_deadline = NULL,
            status_version = status_version + 1
        WHERE id = $1 AND status IN ('SEARCHING','ASSIGNED','PICKED_UP')
          AND status_version = $2`,
		string(d.ID), d.StatusVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if d.DriverID != nil {
		if _, err := tx.Exec(ctx, `
            UPDATE drivers SET status = 'ONLINE'
            WHERE id = $1 AND status = 'BUSY'`,
			string(*d.DriverID),
		); err != nil {
			return err
		}
	}

	if err := appendEvent(ctx, tx, &Event{
		DeliveryID: d.ID,
		FromStatus: d.Status,
		ToStatus:   StatusCancelled,
		ActorType:  actorType,
		Reason:     reason,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func appendEvent(ctx context.Context, tx pgx.Tx, e *Event) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO delivery_state_events (
            delivery_id, from_status, to_status, actor_type, actor_id, reason, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		string(e.DeliveryID), string(e.FromStatus), string(e.ToStatus),
		e.ActorType, idPtr(e.ActorID), nullString(e.Reason),
	)
	return err
}

// AppendEvent records a transition outside of a store-owned transaction
// (proposal and rejection bookkeeping).
func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO delivery_state_events (
            delivery_id, from_status, to_status, actor_type, actor_id, reason, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		string(e.DeliveryID), string(e.FromStatus), string(e.ToStatus),
		e.ActorType, idPtr(e.ActorID), nullString(e.Reason),
	)
	return err
}

func (s *Store) AppendRoutePoint(ctx context.Context, deliveryID types.ID, p types.Point, at time.Time) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO delivery_route_points (delivery_id, lat, lng, recorded_at)
        VALUES ($1, $2, $3, $4)`,
		string(deliveryID), p.Lat, p.Lng, at,
	)
	return err
}

func (s *Store) ListRoute(ctx context.Context, deliveryID types.ID) ([]RoutePoint, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, delivery_id, lat, lng, recorded_at
        FROM delivery_route_points WHERE delivery_id = $1 ORDER BY recorded_at`,
		string(deliveryID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoutePoint
	for rows.Next() {
		var p RoutePoint
		if err := rows.Scan(&p.ID, &p.DeliveryID, &p.Position.Lat, &p.Position.Lng, &p.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListExpiredSearching returns SEARCHING deliveries with an elapsed
// acceptance deadline, plus ones with no open offer at all; the expiry sweep
// recycles both.
func (s *Store) ListExpiredSearching(ctx context.Context, now time.Time, limit int) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id FROM deliveries
        WHERE status = 'SEARCHING'
          AND (proposed_driver_id IS NULL OR acceptance_deadline < $1)
        ORDER BY acceptance_deadline NULLS LAST
        LIMIT $2`, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, types.ID(id))
	}
	return out, rows.Err()
}

// RequestMeta is what dispatch needs to know about the bound blood request.
type RequestMeta struct {
	Status     string
	HospitalID *types.ID
	Group      types.BloodGroup
	Units      int
	Pickup     *types.Point
}

// GetRequestMeta loads the bound request's state along with the claiming
// hospital's coordinates when known.
func (s *Store) GetRequestMeta(ctx context.Context, requestID types.ID) (*RequestMeta, error) {
	row := s.db.QueryRow(ctx, `
        SELECT r.status, r.hospital_id, r.blood_group, r.units, h.lat, h.lng
        FROM blood_requests r
        LEFT JOIN hospitals h ON h.id = r.hospital_id
        WHERE r.id = $1`, string(requestID),
	)
	var m RequestMeta
	var hospitalID sql.NullString
	var lat, lng sql.NullFloat64
	err := row.Scan(&m.Status, &hospitalID, &m.Group, &m.Units, &lat, &lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.HospitalID = nullID(hospitalID)
	if lat.Valid && lng.Valid {
		m.Pickup = &types.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &m, nil
}

// PickBag binds the earliest-expiring available bag of the right group at the
// hospital, first-expired-first-out.
func (s *Store) PickBag(ctx context.Context, hospitalID types.ID, group types.BloodGroup) (*string, error) {
	row := s.db.QueryRow(ctx, `
        SELECT bag_id FROM blood_bags
        WHERE owner_hospital_id = $1 AND blood_group = $2 AND status = 'AVAILABLE'
        ORDER BY expires_at, bag_id
        LIMIT 1`, string(hospitalID), string(group),
	)
	var bagID string
	err := row.Scan(&bagID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bagID, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func nullID(v sql.NullString) *types.ID {
	if !v.Valid {
		return nil
	}
	id := types.ID(v.String)
	return &id
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
