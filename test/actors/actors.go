package actors

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"travelmatch/dispute"
	"travelmatch/escrow"
	"travelmatch/match"
)

// Committer repeatedly races CommitMatch for one request against a set of
// candidate offers. Conflicts are the point; every error is tolerated and
// the actor keeps hammering.
func Committer(ctx context.Context, coord *match.Coordinator, requestID string, offerIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		offerID := offerIDs[rand.Intn(len(offerIDs))]
		_, _ = coord.CommitMatch(ctx, requestID, offerID)
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Releaser settles the request's held payment to the helper whenever one
// exists. Racing releasers on the same payment must still transfer once.
func Releaser(ctx context.Context, ledger *escrow.Ledger, requestID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if p, err := ledger.ActivePayment(ctx, requestID); err == nil && p.Status == escrow.StatusHeldInEscrow {
			_, _ = ledger.Release(ctx, p.ID)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Canceller tears matches down again, refunding the hold and freeing the
// offer so committers can re-match it.
func Canceller(ctx context.Context, coord *match.Coordinator, requestID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = coord.CancelMatch(ctx, requestID)
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Disputer files a complaint as the payer against the request's held
// payment. Duplicate filings must bounce off the active-dispute guard.
func Disputer(ctx context.Context, resolver *dispute.Resolver, ledger *escrow.Ledger, requestID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if p, err := ledger.ActivePayment(ctx, requestID); err == nil && p.Status == escrow.StatusHeldInEscrow {
			_, _ = resolver.Open(ctx, dispute.OpenParams{
				PaymentID:  p.ID,
				RaisedByID: p.PayerID,
				Reason:     "service was not provided as agreed",
			})
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// Arbiter plays the admin: it picks up open disputes, moves them under
// review and resolves them with a random outcome.
func Arbiter(ctx context.Context, pool *pgxpool.Pool, resolver *dispute.Resolver, adminID string, stop <-chan struct{}) error {
	outcomes := []dispute.Outcome{dispute.OutcomeResolved, dispute.OutcomeRefunded, dispute.OutcomeRejected}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var disputeID string
		err := pool.QueryRow(ctx,
			`SELECT id FROM disputes WHERE status = 'open' ORDER BY created_at LIMIT 1`).Scan(&disputeID)
		if err == nil {
			if _, err := resolver.BeginReview(ctx, disputeID, adminID); err == nil {
				_, _ = resolver.Resolve(ctx, dispute.ResolveParams{
					DisputeID: disputeID,
					Outcome:   outcomes[rand.Intn(len(outcomes))],
					AdminID:   adminID,
					Notes:     "stress arbiter decision",
				})
			}
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}
