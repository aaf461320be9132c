package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed dispute store. A partial unique index on
// payment_id over non-terminal statuses enforces the single-active-dispute
// invariant across processes.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const disputeColumns = `id, payment_id, raised_by_id, reason, evidence_ref, status::text, admin_notes,
	resolved_by_admin_id, resolved_at, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, d Record) (Record, error) {
	query := fmt.Sprintf(`
		INSERT INTO disputes (id, payment_id, raised_by_id, reason, evidence_ref, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, 'open')
		RETURNING %s`, disputeColumns)

	out, err := scanRecord(s.pool.QueryRow(ctx, query,
		d.ID, d.PaymentID, d.RaisedByID, d.Reason, d.EvidenceRef))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrActiveDispute
		}
		return Record{}, fmt.Errorf("dispute: create: %w", err)
	}
	return out, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM disputes WHERE id = $1`, disputeColumns)

	out, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return out, nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM disputes WHERE id = $1 AND status = 'open'`, id)
	if err != nil {
		return fmt.Errorf("dispute: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, id)
	}
	return nil
}

func (s *PGStore) BeginReview(ctx context.Context, id string) (Record, error) {
	query := fmt.Sprintf(`
		UPDATE disputes
		SET status = 'under_review', updated_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING %s`, disputeColumns)

	out, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("dispute: begin review: %w", err)
	}
	return Record{}, s.classifyMiss(ctx, id)
}

func (s *PGStore) Close(ctx context.Context, id string, to Status, adminID, notes string) (Record, error) {
	query := fmt.Sprintf(`
		UPDATE disputes
		SET status = $2::dispute_status,
		    admin_notes = $3,
		    resolved_by_admin_id = $4,
		    resolved_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status IN ('open','under_review')
		RETURNING %s`, disputeColumns)

	out, err := scanRecord(s.pool.QueryRow(ctx, query, id, to, notes, adminID))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("dispute: close: %w", err)
	}
	return Record{}, s.classifyMiss(ctx, id)
}

func (s *PGStore) ListByPayment(ctx context.Context, paymentID string) ([]Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM disputes WHERE payment_id = $1 ORDER BY created_at`, disputeColumns)

	rows, err := s.pool.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list by payment: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 4)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func (s *PGStore) classifyMiss(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM disputes WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("dispute: classify transition miss: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusConflict
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	return rec, row.Scan(
		&rec.ID,
		&rec.PaymentID,
		&rec.RaisedByID,
		&rec.Reason,
		&rec.EvidenceRef,
		&rec.Status,
		&rec.AdminNotes,
		&rec.ResolvedByAdminID,
		&rec.ResolvedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
}
