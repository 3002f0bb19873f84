// README: Blood request store; approval claims the request and debits stock in one transaction.
package request

import (
	"context"
	"database/sql"
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

func (s *Store) Create(ctx context.Context, r *Request) error {
	return insertRequest(ctx, s.db, r)
}

// CreateWithCredit inserts the request and runs open inside one transaction,
// so a borrow request never lands without its obligation.
func (s *Store) CreateWithCredit(ctx context.Context, r *Request, open func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertRequest(ctx, tx, r); err != nil {
		return err
	}
	if err := open(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRequest(ctx context.Context, db execer, r *Request) error {
	var hospitalID *string
	if r.HospitalID != nil {
		v := string(*r.HospitalID)
		hospitalID = &v
	}
	_, err := db.Exec(ctx, `
        INSERT INTO blood_requests (
            id, requester_id, hospital_id, blood_group, units, urgency,
            status, reason, is_borrow, payment_status, expires_at, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(r.ID), string(r.RequesterID), hospitalID, string(r.Group), r.Units,
		string(r.Urgency), string(r.Status), r.Reason, r.IsBorrow, r.PaymentStatus,
		r.ExpiresAt, r.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Request, error) {
	return scanRequest(s.db.QueryRow(ctx, selectRequest+` WHERE id = $1`, string(id)))
}

const selectRequest = `
        SELECT id, requester_id, hospital_id, blood_group, units, urgency,
               status, reason, is_borrow, payment_status, expires_at, created_at
        FROM blood_requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var r Request
	var hospitalID sql.NullString
	var expiresAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.RequesterID, &hospitalID, &r.Group, &r.Units, &r.Urgency,
		&r.Status, &r.Reason, &r.IsBorrow, &r.PaymentStatus, &expiresAt, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if hospitalID.Valid {
		h := types.ID(hospitalID.String)
		r.HospitalID = &h
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		r.ExpiresAt = &t
	}
	return &r, nil
}

// ListPendingForHospital returns the hospital's own pending requests plus
// every open (unclaimed) pending request.
func (s *Store) ListPendingForHospital(ctx context.Context, hospitalID types.ID) ([]*Request, error) {
	rows, err := s.db.Query(ctx, selectRequest+`
        WHERE status = 'PENDING' AND (hospital_id IS NULL OR hospital_id = $1)
        ORDER BY urgency = 'EMERGENCY' DESC, urgency = 'URGENT' DESC, created_at`,
		string(hospitalID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Approve claims the request for the acting hospital and debits stock in a
// single transaction. The status flip and the conditional decrement both
// carry their guards in the UPDATE itself; either losing aborts the whole
// transaction.
func (s *Store) Approve(ctx context.Context, id, hospitalID types.ID, group types.BloodGroup, units int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE blood_requests
        SET status = 'APPROVED', hospital_id = $2
        WHERE id = $1 AND status = 'PENDING'
          AND (hospital_id IS NULL OR hospital_id = $2)`,
		string(id), string(hospitalID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}

	tag, err = tx.Exec(ctx, `
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
	return tx.Commit(ctx)
}

// Reject flips a pending request to REJECTED. Open requests may only be
// rejected by the hospital that would claim them, matching the approve guard.
func (s *Store) Reject(ctx context.Context, id, hospitalID types.ID) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE blood_requests
        SET status = 'REJECTED', hospital_id = COALESCE(hospital_id, $2)
        WHERE id = $1 AND status = 'PENDING'
          AND (hospital_id IS NULL OR hospital_id = $2)`,
		string(id), string(hospitalID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}
