package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed payment/escrow store. The payments table
// carries a partial unique index on request_id over non-terminal statuses,
// so the one-active-payment invariant holds across processes.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const paymentColumns = `id, payer_id, payee_id, request_id, amount, currency, status::text, platform_fee, version, created_at, completed_at`

func (s *PGStore) CreatePayment(ctx context.Context, p Payment) (Payment, error) {
	query := fmt.Sprintf(`
		INSERT INTO payments (id, payer_id, payee_id, request_id, amount, currency, status, platform_fee, version)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, 'created', $7, 1)
		RETURNING %s`, paymentColumns)

	row := s.pool.QueryRow(ctx, query,
		p.ID, p.PayerID, p.PayeeID, p.RequestID, p.Amount, p.Currency, p.PlatformFee)

	out, err := scanPayment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Payment{}, ErrActivePayment
		}
		return Payment{}, fmt.Errorf("escrow: create payment: %w", err)
	}
	return out, nil
}

func (s *PGStore) GetPayment(ctx context.Context, id string) (Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1`, paymentColumns)

	out, err := scanPayment(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("escrow: get payment: %w", err)
	}
	return out, nil
}

func (s *PGStore) ActivePaymentByRequest(ctx context.Context, requestID string) (Payment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM payments
		WHERE request_id = $1 AND status NOT IN ('released','refunded')
		LIMIT 1`, paymentColumns)

	out, err := scanPayment(s.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("escrow: active payment by request: %w", err)
	}
	return out, nil
}

func (s *PGStore) DeletePayment(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM payments WHERE id = $1 AND status = 'created'`, id)
	if err != nil {
		return fmt.Errorf("escrow: delete payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, id)
	}
	return nil
}

func (s *PGStore) MarkHeld(ctx context.Context, paymentID, referenceID string) (Payment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("escrow: begin mark held: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		UPDATE payments
		SET status = 'held_in_escrow', version = version + 1
		WHERE id = $1 AND status = 'created'
		RETURNING %s`, paymentColumns)

	out, err := scanPayment(tx.QueryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, s.classifyMiss(ctx, paymentID)
		}
		return Payment{}, fmt.Errorf("escrow: mark held: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO escrows (payment_id, amount, reference_id, status)
		VALUES ($1, $2, $3, 'held')`,
		paymentID, out.Amount, referenceID); err != nil {
		return Payment{}, fmt.Errorf("escrow: insert escrow record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, fmt.Errorf("escrow: commit mark held: %w", err)
	}
	return out, nil
}

func (s *PGStore) Transition(ctx context.Context, paymentID string, from, to PaymentStatus) (Payment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("escrow: begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		UPDATE payments
		SET status = $3::payment_status,
		    version = version + 1,
		    completed_at = CASE WHEN $3::payment_status IN ('released','refunded') THEN now() ELSE completed_at END
		WHERE id = $1 AND status = $2::payment_status
		RETURNING %s`, paymentColumns)

	out, err := scanPayment(tx.QueryRow(ctx, query, paymentID, from, to))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, s.classifyMiss(ctx, paymentID)
		}
		return Payment{}, fmt.Errorf("escrow: transition payment: %w", err)
	}

	if to.Terminal() {
		escStatus := EscrowRefunded
		if to == StatusReleased {
			escStatus = EscrowReleased
		}
		if _, err := tx.Exec(ctx, `
			UPDATE escrows
			SET status = $2::escrow_status, released_at = now()
			WHERE payment_id = $1`,
			paymentID, escStatus); err != nil {
			return Payment{}, fmt.Errorf("escrow: settle escrow record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, fmt.Errorf("escrow: commit transition: %w", err)
	}
	return out, nil
}

func (s *PGStore) GetEscrow(ctx context.Context, paymentID string) (Escrow, error) {
	const query = `
		SELECT payment_id, amount, reference_id, status::text, created_at, released_at
		FROM escrows
		WHERE payment_id = $1`

	var esc Escrow
	err := s.pool.QueryRow(ctx, query, paymentID).Scan(
		&esc.PaymentID,
		&esc.Amount,
		&esc.ReferenceID,
		&esc.Status,
		&esc.CreatedAt,
		&esc.ReleasedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrEscrowNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: get escrow: %w", err)
	}
	return esc, nil
}

func (s *PGStore) classifyMiss(ctx context.Context, paymentID string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id=$1)`, paymentID).Scan(&exists); err != nil {
		return fmt.Errorf("escrow: classify transition miss: %w", err)
	}
	if !exists {
		return ErrPaymentNotFound
	}
	return ErrStatusConflict
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	return p, row.Scan(
		&p.ID,
		&p.PayerID,
		&p.PayeeID,
		&p.RequestID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.PlatformFee,
		&p.Version,
		&p.CreatedAt,
		&p.CompletedAt,
	)
}
