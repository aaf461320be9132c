package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed catalog store. The conditional writes are
// version-guarded UPDATEs, so row-level serialization comes from the
// database without any cross-entity lock.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const requestColumns = `id, requester_id, category::text, origin, destination, travel_date, seats,
	needs_luggage, amount, currency, is_active, is_matched, matched_offer_id, version, created_at, updated_at`

const offerColumns = `id, helper_id, category::text, origin, destination, window_start, window_end, seats,
	handles_luggage, price, currency, helper_rating, completed_count, is_available, version, created_at, updated_at`

func (s *PGStore) CreateRequest(ctx context.Context, req Request) (Request, error) {
	query := fmt.Sprintf(`
		INSERT INTO requests (id, requester_id, category, origin, destination, travel_date, seats,
			needs_luggage, amount, currency, is_active, is_matched, version)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3::service_category, $4, $5, $6, $7, $8, $9, $10, $11, false, 1)
		RETURNING %s`, requestColumns)

	row := s.pool.QueryRow(ctx, query,
		req.ID,
		req.RequesterID,
		req.Category,
		req.Origin,
		req.Destination,
		req.TravelDate,
		req.Seats,
		req.NeedsLuggage,
		req.Amount,
		req.Currency,
		req.IsActive,
	)
	out, err := scanRequest(row)
	if err != nil {
		return Request{}, fmt.Errorf("catalog: create request: %w", err)
	}
	return out, nil
}

func (s *PGStore) GetRequest(ctx context.Context, id string) (Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE id = $1`, requestColumns)

	out, err := scanRequest(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, fmt.Errorf("catalog: get request: %w", err)
	}
	return out, nil
}

func (s *PGStore) UpdateRequest(ctx context.Context, req Request, expectedVersion int64) (Request, error) {
	query := fmt.Sprintf(`
		UPDATE requests
		SET is_active = $2,
		    is_matched = $3,
		    matched_offer_id = $4,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $5
		RETURNING %s`, requestColumns)

	out, err := scanRequest(s.pool.QueryRow(ctx, query,
		req.ID, req.IsActive, req.IsMatched, req.MatchedOfferID, expectedVersion))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Request{}, fmt.Errorf("catalog: update request: %w", err)
	}
	return Request{}, s.classifyMiss(ctx, "requests", req.ID, ErrRequestNotFound)
}

func (s *PGStore) CreateOffer(ctx context.Context, off Offer) (Offer, error) {
	query := fmt.Sprintf(`
		INSERT INTO offers (id, helper_id, category, origin, destination, window_start, window_end, seats,
			handles_luggage, price, currency, helper_rating, completed_count, is_available, version)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3::service_category, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)
		RETURNING %s`, offerColumns)

	row := s.pool.QueryRow(ctx, query,
		off.ID,
		off.HelperID,
		off.Category,
		off.Origin,
		off.Destination,
		off.WindowStart,
		off.WindowEnd,
		off.Seats,
		off.HandlesLuggage,
		off.Price,
		off.Currency,
		off.HelperRating,
		off.CompletedCount,
		off.IsAvailable,
	)
	out, err := scanOffer(row)
	if err != nil {
		return Offer{}, fmt.Errorf("catalog: create offer: %w", err)
	}
	return out, nil
}

func (s *PGStore) GetOffer(ctx context.Context, id string) (Offer, error) {
	query := fmt.Sprintf(`SELECT %s FROM offers WHERE id = $1`, offerColumns)

	out, err := scanOffer(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrOfferNotFound
		}
		return Offer{}, fmt.Errorf("catalog: get offer: %w", err)
	}
	return out, nil
}

func (s *PGStore) UpdateOffer(ctx context.Context, off Offer, expectedVersion int64) (Offer, error) {
	query := fmt.Sprintf(`
		UPDATE offers
		SET is_available = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $3
		RETURNING %s`, offerColumns)

	out, err := scanOffer(s.pool.QueryRow(ctx, query, off.ID, off.IsAvailable, expectedVersion))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Offer{}, fmt.Errorf("catalog: update offer: %w", err)
	}
	return Offer{}, s.classifyMiss(ctx, "offers", off.ID, ErrOfferNotFound)
}

func (s *PGStore) FindOffers(ctx context.Context, f Filter) ([]Offer, error) {
	base := fmt.Sprintf(`SELECT %s FROM offers`, offerColumns)
	where := []string{"1=1"}
	args := []any{}

	if f.Category != "" {
		where = append(where, fmt.Sprintf("category=$%d::service_category", len(args)+1))
		args = append(args, f.Category)
	}
	if f.Origin != "" {
		where = append(where, fmt.Sprintf("origin=$%d", len(args)+1))
		args = append(args, f.Origin)
	}
	if f.Destination != "" {
		where = append(where, fmt.Sprintf("destination=$%d", len(args)+1))
		args = append(args, f.Destination)
	}
	if !f.TravelDate.IsZero() {
		where = append(where, fmt.Sprintf("window_start <= $%d AND window_end >= $%d", len(args)+1, len(args)+1))
		args = append(args, f.TravelDate)
	}
	if f.MinSeats > 0 {
		where = append(where, fmt.Sprintf("seats >= $%d", len(args)+1))
		args = append(args, f.MinSeats)
	}
	if f.NeedsLuggage {
		where = append(where, "handles_luggage")
	}
	if f.OnlyAvailable {
		where = append(where, "is_available")
	}

	query := base + " WHERE " + strings.Join(where, " AND ") + " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: find offers: %w", err)
	}
	defer rows.Close()

	out := make([]Offer, 0, 8)
	for rows.Next() {
		off, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan offer: %w", err)
		}
		out = append(out, off)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate offers: %w", err)
	}
	return out, nil
}

func (s *PGStore) ListRequests(ctx context.Context, requesterID string) ([]Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE requester_id = $1 ORDER BY created_at DESC`, requestColumns)

	rows, err := s.pool.Query(ctx, query, requesterID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list requests: %w", err)
	}
	defer rows.Close()

	out := make([]Request, 0, 8)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate requests: %w", err)
	}
	return out, nil
}

// classifyMiss distinguishes a lost conditional write from a missing row
// after an UPDATE matched nothing.
func (s *PGStore) classifyMiss(ctx context.Context, table, id string, notFound error) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id=$1)`, table)
	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return fmt.Errorf("catalog: classify update miss: %w", err)
	}
	if !exists {
		return notFound
	}
	return ErrVersionConflict
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	return req, row.Scan(
		&req.ID,
		&req.RequesterID,
		&req.Category,
		&req.Origin,
		&req.Destination,
		&req.TravelDate,
		&req.Seats,
		&req.NeedsLuggage,
		&req.Amount,
		&req.Currency,
		&req.IsActive,
		&req.IsMatched,
		&req.MatchedOfferID,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
}

func scanOffer(row pgx.Row) (Offer, error) {
	var off Offer
	return off, row.Scan(
		&off.ID,
		&off.HelperID,
		&off.Category,
		&off.Origin,
		&off.Destination,
		&off.WindowStart,
		&off.WindowEnd,
		&off.Seats,
		&off.HandlesLuggage,
		&off.Price,
		&off.Currency,
		&off.HelperRating,
		&off.CompletedCount,
		&off.IsAvailable,
		&off.Version,
		&off.CreatedAt,
		&off.UpdatedAt,
	)
}
