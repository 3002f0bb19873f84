// README: Credit and return-request store; settlement applies bag, credit, and counter in one transaction.
package credit

import (
	"context"
	"database/sql"
	"errors"
	"time"

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

// CreateCreditTx inserts inside a caller-owned transaction, used when the
// credit must commit or roll back together with its borrow request.
func (s *Store) CreateCreditTx(ctx context.Context, tx pgx.Tx, c *Credit) error {
	return insertCredit(ctx, tx, c)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertCredit(ctx context.Context, db execer, c *Credit) error {
	_, err := db.Exec(ctx, `
        INSERT INTO credits (
            id, user_id, request_id, blood_group, units, due_at, status, penalized, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(c.ID), string(c.UserID), string(c.RequestID), string(c.Group),
		c.Units, c.DueAt, string(c.Status), c.Penalized, c.CreatedAt,
	)
	return err
}

func (s *Store) GetCredit(ctx context.Context, id types.ID) (*Credit, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, user_id, request_id, blood_group, units, due_at, status, penalized, created_at
        FROM credits WHERE id = $1`, string(id),
	)
	var c Credit
	err := row.Scan(&c.ID, &c.UserID, &c.RequestID, &c.Group, &c.Units,
		&c.DueAt, &c.Status, &c.Penalized, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateReturn inserts a pending return; the partial unique index on
// (credit_id) WHERE status = 'PENDING' turns a second pending offer into
// ErrDuplicateRequest.
func (s *Store) CreateReturn(ctx context.Context, r *ReturnRequest) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO return_requests (
            id, credit_id, user_id, hospital_id, units, status, comments, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(r.ID), string(r.CreditID), string(r.UserID), string(r.HospitalID),
		r.Units, string(r.Status), r.Comments, r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateRequest
	}
	return err
}

const selectReturn = `
        SELECT id, credit_id, user_id, hospital_id, units, status, comments,
               bag_id, bag_expires_at, created_at
        FROM return_requests`

func (s *Store) GetReturn(ctx context.Context, id types.ID) (*ReturnRequest, error) {
	return scanReturn(s.db.QueryRow(ctx, selectReturn+` WHERE id = $1`, string(id)))
}

func (s *Store) ListReturnsByHospital(ctx context.Context, hospitalID types.ID) ([]*ReturnRequest, error) {
	rows, err := s.db.Query(ctx, selectReturn+` WHERE hospital_id = $1 ORDER BY created_at`, string(hospitalID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ReturnRequest
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReturn(row rowScanner) (*ReturnRequest, error) {
	var r ReturnRequest
	var bagID sql.NullString
	var bagExpiry sql.NullTime
	err := row.Scan(&r.ID, &r.CreditID, &r.UserID, &r.HospitalID, &r.Units,
		&r.Status, &r.Comments, &bagID, &bagExpiry, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if bagID.Valid {
		r.BagID = &bagID.String
	}
	if bagExpiry.Valid {
		t := bagExpiry.Time
		r.BagExpiresAt = &t
	}
	return &r, nil
}

// ApproveReturn settles a pending return in one transaction: flip the return,
// clear the credit, mint the bag, and credit the aggregate counter. The new
// bag's unique index rejects reused bag ids.
func (s *Store) ApproveReturn(ctx context.Context, ret *ReturnRequest, bag BagSpec, penalized bool) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE return_requests
        SET status = 'APPROVED', bag_id = $2, bag_expires_at = $3
        WHERE id = $1 AND status = 'PENDING'`,
		string(ret.ID), bag.BagID, bag.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}

	tag, err = tx.Exec(ctx, `
        UPDATE credits SET status = 'CLEARED', penalized = $2
        WHERE id = $1 AND status = 'ACTIVE'`,
		string(ret.CreditID), penalized,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO blood_bags (
            id, bag_id, blood_group, units, expires_at,
            owner_hospital_id, origin_hospital_id, transfer_count, status, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $6, 0, 'AVAILABLE', NOW())`,
		bag.RowID, bag.BagID, string(bag.Group), ret.Units, bag.ExpiresAt,
		string(ret.HospitalID),
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO inventory (hospital_id, blood_group, quantity)
        VALUES ($1, $2, $3)
        ON CONFLICT (hospital_id, blood_group)
        DO UPDATE SET quantity = inventory.quantity + EXCLUDED.quantity`,
		string(ret.HospitalID), string(bag.Group), ret.Units,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// BagSpec describes the bag minted on return approval.
type BagSpec struct {
	RowID     string
	BagID     string
	Group     types.BloodGroup
	ExpiresAt time.Time
}

func (s *Store) RejectReturn(ctx context.Context, id types.ID, comments string) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE return_requests SET status = 'REJECTED', comments = $2
        WHERE id = $1 AND status = 'PENDING'`,
		string(id), comments,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
