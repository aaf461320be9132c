package dispute

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"travelmatch/apperr"
	"travelmatch/escrow"
	"travelmatch/notify"
)

var (
	ErrDisputeMissing = apperr.New(apperr.KindNotFound, "dispute: not found")
	ErrDuplicate      = apperr.New(apperr.KindConflict, "dispute: payment already has an active dispute")
	ErrWindowClosed   = apperr.New(apperr.KindStateTransition, "dispute: payment is no longer held in escrow")
	ErrNotParty       = apperr.New(apperr.KindValidation, "dispute: raiser is not a party to the payment")
	ErrAlreadyClosed  = apperr.New(apperr.KindStateTransition, "dispute: already in a terminal status")
	ErrReviewNotLegal = apperr.New(apperr.KindStateTransition, "dispute: review can only start from open")
	ErrInvalidOutcome = apperr.New(apperr.KindValidation, "dispute: unknown resolution outcome")
	ErrMissingAdmin   = apperr.New(apperr.KindValidation, "dispute: admin id required")
	ErrMissingReason  = apperr.New(apperr.KindValidation, "dispute: reason required")
	ErrLostToResolver = apperr.New(apperr.KindConflict, "dispute: concurrent resolution won")
)

// Ledger is the slice of the escrow ledger the resolver drives. Resolution
// outcomes reach the payment only through these calls.
type Ledger interface {
	Payment(ctx context.Context, id string) (escrow.Payment, error)
	MarkDisputed(ctx context.Context, id string) (escrow.Payment, error)
	ResolveDisputed(ctx context.Context, id string, outcome escrow.Resolution) (escrow.Payment, error)
}

// Outcome is the admin's resolution decision.
type Outcome string

const (
	// OutcomeResolved: dispute settled amicably, funds go to the payee.
	OutcomeResolved Outcome = "resolved"
	// OutcomeRefunded: complaint upheld, funds return to the payer.
	OutcomeRefunded Outcome = "refunded"
	// OutcomeRejected: dispute invalid, funds go to the payee.
	OutcomeRejected Outcome = "rejected"
)

// Resolver manages the dispute state machine layered on top of a payment.
type Resolver struct {
	store    Store
	ledger   Ledger
	notifier *notify.Notifier
	log      *zap.Logger
}

func NewResolver(store Store, ledger Ledger, notifier *notify.Notifier, log *zap.Logger) *Resolver {
	return &Resolver{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		log:      log,
	}
}

// OpenParams carries the complainant's filing.
type OpenParams struct {
	PaymentID   string
	RaisedByID  string
	Reason      string
	EvidenceRef string
}

// Open files a dispute against a held payment: the payment moves to
// Disputed and the dispute record starts Open. The dispute window closes
// once the payment reaches a terminal status.
func (r *Resolver) Open(ctx context.Context, params OpenParams) (Record, error) {
	if params.PaymentID == "" || params.RaisedByID == "" {
		return Record{}, apperr.New(apperr.KindValidation, "dispute: payment id and raiser id required")
	}
	if params.Reason == "" {
		return Record{}, ErrMissingReason
	}

	p, err := r.ledger.Payment(ctx, params.PaymentID)
	if err != nil {
		return Record{}, err
	}
	if params.RaisedByID != p.PayerID && params.RaisedByID != p.PayeeID {
		return Record{}, ErrNotParty
	}
	// A Disputed payment always carries a live dispute record, so the
	// second filer gets the duplicate conflict rather than a closed window.
	if p.Status == escrow.StatusDisputed {
		return Record{}, ErrDuplicate
	}
	if p.Status != escrow.StatusHeldInEscrow {
		return Record{}, ErrWindowClosed
	}

	rec, err := r.store.Create(ctx, Record{
		PaymentID:   params.PaymentID,
		RaisedByID:  params.RaisedByID,
		Reason:      params.Reason,
		EvidenceRef: params.EvidenceRef,
	})
	if err != nil {
		if errors.Is(err, ErrActiveDispute) {
			return Record{}, ErrDuplicate
		}
		return Record{}, fmt.Errorf("dispute: open: %w", err)
	}

	if _, err := r.ledger.MarkDisputed(ctx, params.PaymentID); err != nil {
		if delErr := r.store.Delete(ctx, rec.ID); delErr != nil {
			r.log.Error("failed to remove dispute after payment flag failure",
				zap.String("dispute_id", rec.ID), zap.Error(delErr))
		}
		return Record{}, err
	}

	payload := map[string]any{
		"dispute_id": rec.ID,
		"payment_id": rec.PaymentID,
		"reason":     rec.Reason,
	}
	r.notifier.Send(p.PayerID, notify.EventDisputeOpened, payload)
	r.notifier.Send(p.PayeeID, notify.EventDisputeOpened, payload)

	return rec, nil
}

// BeginReview moves the dispute under admin review. Repeating the call on a
// dispute already under review is a no-op success.
func (r *Resolver) BeginReview(ctx context.Context, disputeID, adminID string) (Record, error) {
	if adminID == "" {
		return Record{}, ErrMissingAdmin
	}

	rec, err := r.store.BeginReview(ctx, disputeID)
	if err == nil {
		r.notifier.Send(rec.RaisedByID, notify.EventDisputeReview, map[string]any{
			"dispute_id": rec.ID,
		})
		return rec, nil
	}
	if errors.Is(err, ErrNotFound) {
		return Record{}, ErrDisputeMissing
	}
	if !errors.Is(err, ErrStatusConflict) {
		return Record{}, fmt.Errorf("dispute: begin review: %w", err)
	}

	current, err := r.store.Get(ctx, disputeID)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin review reload: %w", err)
	}
	if current.Status == StatusUnderReview {
		return current, nil
	}
	return Record{}, ErrReviewNotLegal
}

// ResolveParams carries the admin's decision on a dispute.
type ResolveParams struct {
	DisputeID string
	Outcome   Outcome
	AdminID   string
	Notes     string
}

// Resolve settles the dispute from UnderReview (or straight from Open when
// review is skipped), driving the linked payment terminal through the
// escrow ledger before stamping the dispute record.
func (r *Resolver) Resolve(ctx context.Context, params ResolveParams) (Record, error) {
	if params.AdminID == "" {
		return Record{}, ErrMissingAdmin
	}
	resolution, ok := resolutionFor(params.Outcome)
	if !ok {
		return Record{}, ErrInvalidOutcome
	}

	rec, err := r.store.Get(ctx, params.DisputeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, ErrDisputeMissing
		}
		return Record{}, fmt.Errorf("dispute: resolve: %w", err)
	}
	if rec.Status.Terminal() {
		return Record{}, ErrAlreadyClosed
	}

	p, err := r.ledger.ResolveDisputed(ctx, rec.PaymentID, resolution)
	if err != nil {
		return Record{}, err
	}

	closed, err := r.store.Close(ctx, rec.ID, Status(params.Outcome), params.AdminID, params.Notes)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			// A concurrent resolver with the same outcome idempotently passed
			// the ledger step; whoever stamped the record first wins.
			current, getErr := r.store.Get(ctx, rec.ID)
			if getErr == nil && current.Status == Status(params.Outcome) {
				return current, nil
			}
			return Record{}, ErrLostToResolver
		}
		return Record{}, fmt.Errorf("dispute: close: %w", err)
	}

	payload := map[string]any{
		"dispute_id": closed.ID,
		"payment_id": closed.PaymentID,
		"outcome":    string(params.Outcome),
	}
	r.notifier.Send(p.PayerID, notify.EventDisputeClosed, payload)
	r.notifier.Send(p.PayeeID, notify.EventDisputeClosed, payload)

	return closed, nil
}

// Get returns a dispute by id.
func (r *Resolver) Get(ctx context.Context, disputeID string) (Record, error) {
	rec, err := r.store.Get(ctx, disputeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, ErrDisputeMissing
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

// ListByPayment returns the dispute history of a payment.
func (r *Resolver) ListByPayment(ctx context.Context, paymentID string) ([]Record, error) {
	return r.store.ListByPayment(ctx, paymentID)
}

func resolutionFor(outcome Outcome) (escrow.Resolution, bool) {
	switch outcome {
	case OutcomeResolved, OutcomeRejected:
		return escrow.ResolutionRelease, true
	case OutcomeRefunded:
		return escrow.ResolutionRefund, true
	default:
		return "", false
	}
}
