package escrow

import "time"

// PaymentStatus is the payment lifecycle. Released and Refunded are
// terminal; no transition leaves them.
type PaymentStatus string

const (
	StatusCreated      PaymentStatus = "created"
	StatusHeldInEscrow PaymentStatus = "held_in_escrow"
	StatusReleased     PaymentStatus = "released"
	StatusRefunded     PaymentStatus = "refunded"
	StatusDisputed     PaymentStatus = "disputed"
)

// Terminal reports whether the status admits no further transitions.
func (s PaymentStatus) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// EscrowStatus tracks the funds-holding record linked to a payment.
type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

// Payment records the financial transaction tied to a match. At most one
// non-terminal payment exists per request at any time.
type Payment struct {
	ID        string
	PayerID   string
	PayeeID   string
	RequestID string
	// Amount is in the smallest currency unit; PlatformFee is carved out of
	// it at hold time.
	Amount      int64
	Currency    string
	Status      PaymentStatus
	PlatformFee int64
	Version     int64
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Escrow is the funds-holding record, 1:1 with a payment while held.
// ReferenceID is the external processor's handle for the authorization.
type Escrow struct {
	PaymentID   string
	Amount      int64
	ReferenceID string
	Status      EscrowStatus
	CreatedAt   time.Time
	ReleasedAt  *time.Time
}
