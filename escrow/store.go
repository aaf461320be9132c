package escrow

import (
	"context"
	"errors"
)

var (
	// ErrPaymentNotFound is returned when no payment row exists for the id.
	ErrPaymentNotFound = errors.New("escrow: payment not found")
	// ErrEscrowNotFound is returned when a payment has no escrow record yet.
	ErrEscrowNotFound = errors.New("escrow: escrow record not found")
	// ErrActivePayment signals a non-terminal payment already exists for the
	// request.
	ErrActivePayment = errors.New("escrow: active payment already exists for request")
	// ErrStatusConflict signals a conditional transition found the payment in
	// a different status than the caller expected.
	ErrStatusConflict = errors.New("escrow: payment status conflict")
)

// Store persists payments and their escrow records. Status changes are
// conditional on the source status, so a losing concurrent writer observes
// ErrStatusConflict. Only the Ledger may call the mutating operations.
type Store interface {
	// CreatePayment inserts a payment in StatusCreated, enforcing the
	// one-non-terminal-payment-per-request invariant with ErrActivePayment.
	CreatePayment(ctx context.Context, p Payment) (Payment, error)
	GetPayment(ctx context.Context, id string) (Payment, error)
	// ActivePaymentByRequest returns the request's non-terminal payment, or
	// ErrPaymentNotFound when none exists.
	ActivePaymentByRequest(ctx context.Context, requestID string) (Payment, error)
	// DeletePayment removes a payment still in StatusCreated; it compensates
	// a hold authorization that never went through.
	DeletePayment(ctx context.Context, id string) error

	// MarkHeld moves the payment Created -> HeldInEscrow and creates the
	// escrow record carrying the processor reference, atomically.
	MarkHeld(ctx context.Context, paymentID, referenceID string) (Payment, error)
	// Transition moves the payment from -> to, stamping CompletedAt and
	// settling the escrow record when to is terminal, atomically.
	Transition(ctx context.Context, paymentID string, from, to PaymentStatus) (Payment, error)

	GetEscrow(ctx context.Context, paymentID string) (Escrow, error)
}
