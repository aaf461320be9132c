package dispute

import "time"

// Status represents the dispute lifecycle. Resolved, Refunded and Rejected
// are terminal.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	// StatusResolved closes the dispute with funds released to the payee.
	StatusResolved Status = "resolved"
	// StatusRefunded closes the dispute with funds returned to the payer.
	StatusRefunded Status = "refunded"
	// StatusRejected closes the dispute as invalid; funds go to the payee.
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusRefunded || s == StatusRejected
}

// Record mirrors the disputes table. At most one non-terminal dispute
// exists per payment at any time.
type Record struct {
	ID          string
	PaymentID   string
	RaisedByID  string
	Reason      string
	EvidenceRef string
	Status      Status
	AdminNotes  string
	// ResolvedByAdminID and ResolvedAt are stamped by the terminal
	// transition and stay nil until then.
	ResolvedByAdminID *string
	ResolvedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
