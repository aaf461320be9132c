package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_offer_matched_once",
			SQL: `SELECT matched_offer_id, COUNT(*) FROM requests
                  WHERE is_matched AND matched_offer_id IS NOT NULL
                  GROUP BY matched_offer_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_matched_request_consumes_offer",
			SQL: `SELECT r.id, r.matched_offer_id FROM requests r
                  JOIN offers o ON o.id = r.matched_offer_id
                  WHERE r.is_matched AND o.is_available`,
		},
		{
			Name: "O3_single_active_payment",
			SQL: `SELECT request_id, COUNT(*) FROM payments
                  WHERE status NOT IN ('released','refunded')
                  GROUP BY request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_terminal_payment_stamped",
			SQL: `SELECT id, status FROM payments
                  WHERE status IN ('released','refunded') AND completed_at IS NULL`,
		},
		{
			Name: "O5_escrow_mirrors_payment",
			SQL: `SELECT p.id, p.status, e.status FROM payments p
                  JOIN escrows e ON e.payment_id = p.id
                  WHERE (p.status = 'released' AND e.status <> 'released')
                     OR (p.status = 'refunded' AND e.status <> 'refunded')
                     OR (p.status IN ('held_in_escrow','disputed') AND e.status <> 'held')`,
		},
		{
			Name: "O6_single_active_dispute",
			SQL: `SELECT payment_id, COUNT(*) FROM disputes
                  WHERE status IN ('open','under_review')
                  GROUP BY payment_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_resolution_drives_payment",
			SQL: `SELECT d.id, d.status, p.status FROM disputes d
                  JOIN payments p ON p.id = d.payment_id
                  WHERE (d.status IN ('resolved','rejected') AND p.status <> 'released')
                     OR (d.status = 'refunded' AND p.status <> 'refunded')`,
		},
		{
			Name: "O8_disputed_payment_has_dispute",
			SQL: `SELECT p.id FROM payments p
                  WHERE p.status = 'disputed'
                    AND NOT EXISTS (
                        SELECT 1 FROM disputes d
                        WHERE d.payment_id = p.id AND d.status IN ('open','under_review'))`,
		},
		{
			Name: "O9_fee_within_amount",
			SQL:  `SELECT id, amount, platform_fee FROM payments WHERE platform_fee < 0 OR platform_fee >= amount`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
