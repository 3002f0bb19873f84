// README: Driver store backed by PostgreSQL plus a Redis GEO set for online presence.
package driver

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"hemohive/internal/types"
)

const onlineGeoKey = "dispatch:drivers:online"

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewStore(db *pgxpool.Pool, rdb *redis.Client) *Store {
	return &Store{db: db, redis: rdb}
}

func (s *Store) Create(ctx context.Context, d *Driver) error {
	var lat, lng *float64
	if d.Location != nil {
		lat, lng = &d.Location.Lat, &d.Location.Lng
	}
	_, err := s.db.Exec(ctx, `
        INSERT INTO drivers (
            id, user_id, status, lat, lng, located_at,
            phone, vehicle, blocked, deliveries_completed, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(d.ID), string(d.UserID), string(d.Status), lat, lng, d.LocatedAt,
		d.Phone, d.Vehicle, d.Blocked, d.Completed, d.CreatedAt,
	)
	return err
}

const selectDriver = `
        SELECT id, user_id, status, lat, lng, located_at,
               phone, vehicle, blocked, deliveries_completed, created_at
        FROM drivers`

func (s *Store) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return scanDriver(s.db.QueryRow(ctx, selectDriver+` WHERE id = $1`, string(id)))
}

// GetByUserID resolves the driver profile behind a user account, the binding
// courier endpoints rely on (tokens carry user ids, not driver ids).
func (s *Store) GetByUserID(ctx context.Context, userID types.ID) (*Driver, error) {
	return scanDriver(s.db.QueryRow(ctx,
		selectDriver+` WHERE user_id = $1 ORDER BY created_at, id LIMIT 1`, string(userID)))
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	var lat, lng sql.NullFloat64
	var locatedAt sql.NullTime
	err := row.Scan(
		&d.ID, &d.UserID, &d.Status, &lat, &lng, &locatedAt,
		&d.Phone, &d.Vehicle, &d.Blocked, &d.Completed, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		d.Location = &types.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if locatedAt.Valid {
		t := locatedAt.Time
		d.LocatedAt = &t
	}
	return &d, nil
}

// SetStatus flips availability only from the expected current status, so a
// BUSY driver cannot silently go OFFLINE and two dispatchers cannot both win.
func (s *Store) SetStatus(ctx context.Context, id types.ID, from, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE drivers SET status = $3
        WHERE id = $1 AND status = $2 AND NOT blocked`,
		string(id), string(from), string(to),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetBlocked(ctx context.Context, id types.ID, blocked bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE drivers SET blocked = $2 WHERE id = $1`, string(id), blocked)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLocation overwrites the Postgres snapshot unconditionally.
func (s *Store) UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE drivers SET lat = $2, lng = $3, located_at = $4 WHERE id = $1`,
		string(id), p.Lat, p.Lng, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSelectable returns every ONLINE, unblocked driver ordered by
// registration time then id, the fallback ordering when geo data is absent.
func (s *Store) ListSelectable(ctx context.Context) ([]Candidate, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, created_at FROM drivers
        WHERE status = 'ONLINE' AND NOT blocked
        ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Redis GEO presence ---

func (s *Store) AddPresence(ctx context.Context, id types.ID, p types.Point) error {
	return s.redis.GeoAdd(ctx, onlineGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (s *Store) RemovePresence(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, onlineGeoKey, string(id)).Err()
}

// NearbyPresence returns online driver ids within radiusKm of p with their
// distances, closest first.
func (s *Store) NearbyPresence(ctx context.Context, p types.Point, radiusKm float64) ([]Candidate, error) {
	results, err := s.redis.GeoSearchLocation(ctx, onlineGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithDist:  true,
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		out = append(out, Candidate{
			ID:         types.ID(r.Name),
			DistanceKm: r.Dist,
			Position:   &types.Point{Lat: r.Latitude, Lng: r.Longitude},
			HasGeo:     true,
		})
	}
	return out, nil
}
