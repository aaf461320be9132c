package dispute

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no dispute row exists for the id.
	ErrNotFound = errors.New("dispute: not found")
	// ErrActiveDispute signals the payment already carries a non-terminal
	// dispute.
	ErrActiveDispute = errors.New("dispute: active dispute already exists for payment")
	// ErrStatusConflict signals a conditional transition found the dispute in
	// a different status than expected.
	ErrStatusConflict = errors.New("dispute: status conflict")
)

// Store persists dispute records. Create enforces the single-active-dispute
// invariant; the transitions are conditional so concurrent resolution
// attempts serialize the same way match commits do.
type Store interface {
	// Create inserts the dispute in StatusOpen, failing with
	// ErrActiveDispute when the payment already has a non-terminal one.
	Create(ctx context.Context, d Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	// Delete removes a dispute still in StatusOpen; it compensates an open
	// that could not flag the payment.
	Delete(ctx context.Context, id string) error

	// BeginReview moves Open -> UnderReview conditionally.
	BeginReview(ctx context.Context, id string) (Record, error)
	// Close moves an Open or UnderReview dispute to the terminal status,
	// stamping the resolving admin, notes and resolution time.
	Close(ctx context.Context, id string, to Status, adminID, notes string) (Record, error)

	ListByPayment(ctx context.Context, paymentID string) ([]Record, error)
}
