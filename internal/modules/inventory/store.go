// README: Inventory store backed by PostgreSQL; counters move only via conditional updates.
package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hemohive/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// InsertBag persists a bag and bumps the aggregate counter in one transaction.
func (s *Store) InsertBag(ctx context.Context, b *Bag) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
        INSERT INTO blood_bags (
            id, bag_id, blood_group, units, expires_at,
            owner_hospital_id, origin_hospital_id, transfer_count, status, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(b.ID), b.BagID, string(b.Group), b.Units, b.ExpiresAt,
		string(b.OwnerID), string(b.OriginID), b.TransferCount, string(b.Status), b.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateBag
	}
	if err != nil {
		return err
	}

	if err := increment(ctx, tx, b.OwnerID, b.Group, b.Units); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Increment adds units to the (hospital, group) counter, creating the row on
// first use.
func (s *Store) Increment(ctx context.Context, hospitalID types.ID, group types.BloodGroup, units int) error {
	return increment(ctx, s.db, hospitalID, group, units)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func increment(ctx context.Context, db execer, hospitalID types.ID, group types.BloodGroup, units int) error {
	_, err := db.Exec(ctx, `
        INSERT INTO inventory (hospital_id, blood_group, quantity)
        VALUES ($1, $2, $3)
        ON CONFLICT (hospital_id, blood_group)
        DO UPDATE SET quantity = inventory.quantity + EXCLUDED.quantity`,
		string(hospitalID), string(group), units,
	)
	return err
}

// Decrement removes units only when enough stock exists; the guard lives in
// the same UPDATE so concurrent approvals cannot drive the counter negative.
func (s *Store) Decrement(ctx context.Context, hospitalID types.ID, group types.BloodGroup, units int) error {
	return decrement(ctx, s.db, hospitalID, group, units)
}

func decrement(ctx context.Context, db execer, hospitalID types.ID, group types.BloodGroup, units int) error {
	tag, err := db.Exec(ctx, `
        UPDATE inventory
        SET quantity = quantity - $3
        WHERE hospital_id = $1 AND blood_group = $2 AND quantity >= $3`,
		string(hospitalID), string(group), units,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (s *Store) GetLevel(ctx context.Context, hospitalID types.ID, group types.BloodGroup) (Level, error) {
	row := s.db.QueryRow(ctx, `
        SELECT quantity FROM inventory
        WHERE hospital_id = $1 AND blood_group = $2`,
		string(hospitalID), string(group),
	)
	l := Level{HospitalID: hospitalID, Group: group}
	err := row.Scan(&l.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return l, nil
	}
	if err != nil {
		return Level{}, err
	}
	return l, nil
}

func (s *Store) ListLevels(ctx context.Context, hospitalID types.ID) ([]Level, error) {
	rows, err := s.db.Query(ctx, `
        SELECT blood_group, quantity FROM inventory
        WHERE hospital_id = $1
        ORDER BY blood_group`,
		string(hospitalID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var levels []Level
	for rows.Next() {
		l := Level{HospitalID: hospitalID}
		if err := rows.Scan(&l.Group, &l.Quantity); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

// MarkListed flips a bag onto the exchange. The WHERE clause repeats the
// eligibility check so a concurrent transfer cannot slip a second-hand bag in.
func (s *Store) MarkListed(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE blood_bags SET status = 'LISTED'
        WHERE id = $1 AND status = 'AVAILABLE' AND transfer_count = 0`,
		string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// MarkAvailable takes a listed bag back off the exchange.
func (s *Store) MarkAvailable(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE blood_bags SET status = 'AVAILABLE'
        WHERE id = $1 AND status = 'LISTED'`,
		string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (s *Store) GetBag(ctx context.Context, bagID string) (*Bag, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, bag_id, blood_group, units, expires_at,
               owner_hospital_id, origin_hospital_id, transfer_count, status, created_at
        FROM blood_bags WHERE bag_id = $1`, bagID,
	)
	var b Bag
	err := row.Scan(
		&b.ID, &b.BagID, &b.Group, &b.Units, &b.ExpiresAt,
		&b.OwnerID, &b.OriginID, &b.TransferCount, &b.Status, &b.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) BagExists(ctx context.Context, bagID string) (bool, error) {
	row := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM blood_bags WHERE bag_id = $1)`, bagID)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
