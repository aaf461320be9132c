package escrow

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"travelmatch/apperr"
	"travelmatch/notify"
)

// Processor executes real money movement. Release and Refund are idempotent
// on the processor side, keyed by the reference id from AuthorizeHold.
type Processor interface {
	AuthorizeHold(ctx context.Context, amount int64, currency, payerID, payeeID string) (string, error)
	Release(ctx context.Context, referenceID string) error
	Refund(ctx context.Context, referenceID string) error
}

// Resolution is the dispute resolver's instruction for a disputed payment.
type Resolution string

const (
	ResolutionRelease Resolution = "release"
	ResolutionRefund  Resolution = "refund"
)

var (
	ErrPaymentMissing = apperr.New(apperr.KindNotFound, "escrow: payment not found")
	ErrInvalidHold    = apperr.New(apperr.KindValidation, "escrow: invalid hold parameters")
	ErrDuplicateHold  = apperr.New(apperr.KindConflict, "escrow: request already has an active payment")
	ErrProcessor      = apperr.New(apperr.KindExternal, "escrow: payment processor failure")
)

const defaultFeeRate = 0.10

// Ledger owns the payment/escrow state machine. It is the only component
// permitted to mutate payment status; every transition is guarded before
// any processor call, and a processor failure is never recorded as a
// completed transition.
type Ledger struct {
	store     Store
	processor Processor
	notifier  *notify.Notifier
	log       *zap.Logger
	feeRate   float64
}

func NewLedger(store Store, processor Processor, notifier *notify.Notifier, log *zap.Logger) *Ledger {
	return &Ledger{
		store:     store,
		processor: processor,
		notifier:  notifier,
		log:       log,
		feeRate:   defaultFeeRate,
	}
}

// WithFeeRate overrides the platform fee rate (a fraction of the amount).
func (l *Ledger) WithFeeRate(rate float64) *Ledger {
	if rate >= 0 && rate < 1 {
		l.feeRate = rate
	}
	return l
}

// OpenHoldParams carries everything needed to authorize funds for a match.
type OpenHoldParams struct {
	RequestID string
	PayerID   string
	PayeeID   string
	Amount    int64
	Currency  string
}

// OpenHold creates the payment, authorizes the hold with the processor and
// records HeldInEscrow with the processor's reference. If authorization
// fails the payment is removed again so the enclosing match commit can roll
// back cleanly.
func (l *Ledger) OpenHold(ctx context.Context, params OpenHoldParams) (Payment, error) {
	if params.RequestID == "" || params.PayerID == "" || params.PayeeID == "" {
		return Payment{}, ErrInvalidHold
	}
	if params.Amount <= 0 || params.Currency == "" {
		return Payment{}, ErrInvalidHold
	}

	p, err := l.store.CreatePayment(ctx, Payment{
		PayerID:     params.PayerID,
		PayeeID:     params.PayeeID,
		RequestID:   params.RequestID,
		Amount:      params.Amount,
		Currency:    params.Currency,
		PlatformFee: l.fee(params.Amount),
	})
	if err != nil {
		if errors.Is(err, ErrActivePayment) {
			return Payment{}, ErrDuplicateHold
		}
		return Payment{}, fmt.Errorf("escrow: open hold: %w", err)
	}

	ref, err := l.processor.AuthorizeHold(ctx, p.Amount, p.Currency, p.PayerID, p.PayeeID)
	if err != nil {
		// Compensation must outlive the caller's deadline or the created
		// payment wedges the request behind the active-payment guard.
		comp := context.WithoutCancel(ctx)
		if delErr := l.store.DeletePayment(comp, p.ID); delErr != nil {
			l.log.Error("failed to remove payment after hold authorization failure",
				zap.String("payment_id", p.ID), zap.Error(delErr))
		}
		return Payment{}, apperr.Wrap(apperr.KindExternal, "escrow: payment processor failure", err)
	}

	held, err := l.store.MarkHeld(ctx, p.ID, ref)
	if err != nil {
		// The authorization exists at the processor; hand the funds back
		// before removing the unwired payment.
		comp := context.WithoutCancel(ctx)
		if refundErr := l.processor.Refund(comp, ref); refundErr != nil {
			l.log.Error("failed to refund orphaned hold authorization",
				zap.String("payment_id", p.ID), zap.String("reference_id", ref), zap.Error(refundErr))
		}
		if delErr := l.store.DeletePayment(comp, p.ID); delErr != nil {
			l.log.Error("failed to remove payment after held-status write failure",
				zap.String("payment_id", p.ID), zap.Error(delErr))
		}
		return Payment{}, fmt.Errorf("escrow: record held status: %w", err)
	}

	l.notifier.Send(held.PayerID, notify.EventEscrowHeld, map[string]any{
		"payment_id": held.ID,
		"request_id": held.RequestID,
		"amount":     held.Amount,
		"currency":   held.Currency,
	})

	return held, nil
}

// Release moves a held payment to Released, paying out the payee. Calling
// it on an already-released payment is a no-op success with no processor
// call, so callers may retry freely.
func (l *Ledger) Release(ctx context.Context, paymentID string) (Payment, error) {
	return l.settle(ctx, paymentID, StatusHeldInEscrow, StatusReleased)
}

// Refund moves a held payment to Refunded, returning funds to the payer.
// Idempotent on an already-refunded payment.
func (l *Ledger) Refund(ctx context.Context, paymentID string) (Payment, error) {
	return l.settle(ctx, paymentID, StatusHeldInEscrow, StatusRefunded)
}

// MarkDisputed flags a held payment as disputed. Funds stay physically held
// with the processor; only the logical status changes. Only the dispute
// resolver calls this.
func (l *Ledger) MarkDisputed(ctx context.Context, paymentID string) (Payment, error) {
	p, err := l.load(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	switch p.Status {
	case StatusDisputed:
		return p, nil
	case StatusHeldInEscrow:
		// proceed
	default:
		return Payment{}, transitionError(p.Status, StatusDisputed)
	}

	updated, err := l.store.Transition(ctx, paymentID, StatusHeldInEscrow, StatusDisputed)
	if err != nil {
		return l.recoverConflict(ctx, paymentID, StatusDisputed, err)
	}
	return updated, nil
}

// ResolveDisputed settles a disputed payment per the resolver's outcome.
// Only the dispute resolver calls this; a user-initiated release or refund
// never applies to a disputed payment.
func (l *Ledger) ResolveDisputed(ctx context.Context, paymentID string, outcome Resolution) (Payment, error) {
	switch outcome {
	case ResolutionRelease:
		return l.settle(ctx, paymentID, StatusDisputed, StatusReleased)
	case ResolutionRefund:
		return l.settle(ctx, paymentID, StatusDisputed, StatusRefunded)
	default:
		return Payment{}, apperr.Newf(apperr.KindValidation, "escrow: unknown resolution %q", outcome)
	}
}

// Payment returns the payment by id.
func (l *Ledger) Payment(ctx context.Context, id string) (Payment, error) {
	return l.load(ctx, id)
}

// ActivePayment returns the request's non-terminal payment.
func (l *Ledger) ActivePayment(ctx context.Context, requestID string) (Payment, error) {
	p, err := l.store.ActivePaymentByRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return Payment{}, ErrPaymentMissing
		}
		return Payment{}, fmt.Errorf("escrow: active payment: %w", err)
	}
	return p, nil
}

// settle drives a payment from a source status into a terminal one,
// invoking the matching processor operation first. The guard runs before
// the processor call; a lost conditional write that still landed on the
// target terminal status counts as success.
func (l *Ledger) settle(ctx context.Context, paymentID string, from, to PaymentStatus) (Payment, error) {
	p, err := l.load(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}

	if p.Status == to {
		// Retried settlement; nothing to transfer again.
		return p, nil
	}
	if p.Status != from {
		return Payment{}, transitionError(p.Status, to)
	}

	esc, err := l.store.GetEscrow(ctx, paymentID)
	if err != nil {
		return Payment{}, fmt.Errorf("escrow: settle: %w", err)
	}

	var procErr error
	if to == StatusReleased {
		procErr = l.processor.Release(ctx, esc.ReferenceID)
	} else {
		procErr = l.processor.Refund(ctx, esc.ReferenceID)
	}
	if procErr != nil {
		return Payment{}, apperr.Wrap(apperr.KindExternal, "escrow: payment processor failure", procErr)
	}

	updated, err := l.store.Transition(ctx, paymentID, from, to)
	if err != nil {
		return l.recoverConflict(ctx, paymentID, to, err)
	}

	event := notify.EventEscrowRefunded
	target := updated.PayerID
	if to == StatusReleased {
		event = notify.EventEscrowReleased
		target = updated.PayeeID
	}
	l.notifier.Send(target, event, map[string]any{
		"payment_id": updated.ID,
		"request_id": updated.RequestID,
		"amount":     updated.Amount,
		"currency":   updated.Currency,
	})

	return updated, nil
}

// recoverConflict re-reads the payment after a lost conditional write. If a
// concurrent writer already landed it on the desired status the operation
// is an idempotent success; anything else is a conflict the caller must see.
func (l *Ledger) recoverConflict(ctx context.Context, paymentID string, want PaymentStatus, cause error) (Payment, error) {
	if !errors.Is(cause, ErrStatusConflict) {
		if errors.Is(cause, ErrPaymentNotFound) {
			return Payment{}, ErrPaymentMissing
		}
		return Payment{}, fmt.Errorf("escrow: transition: %w", cause)
	}

	current, err := l.load(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if current.Status == want {
		return current, nil
	}
	return Payment{}, apperr.Wrap(apperr.KindConflict, "escrow: concurrent writer changed payment status", cause)
}

func (l *Ledger) load(ctx context.Context, paymentID string) (Payment, error) {
	p, err := l.store.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return Payment{}, ErrPaymentMissing
		}
		return Payment{}, fmt.Errorf("escrow: load payment: %w", err)
	}
	return p, nil
}

func (l *Ledger) fee(amount int64) int64 {
	return int64(math.Round(float64(amount) * l.feeRate))
}

func transitionError(from, to PaymentStatus) error {
	return apperr.Newf(apperr.KindStateTransition,
		"escrow: cannot transition payment from %s to %s", from, to)
}
