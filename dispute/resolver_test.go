package dispute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"travelmatch/apperr"
	"travelmatch/escrow"
	"travelmatch/notify"
)

type fakeProcessor struct {
	mu           sync.Mutex
	holds        int
	releaseCalls int
	refundCalls  int
}

func (p *fakeProcessor) AuthorizeHold(ctx context.Context, amount int64, currency, payerID, payeeID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holds++
	return fmt.Sprintf("ref-%d", p.holds), nil
}

func (p *fakeProcessor) Release(ctx context.Context, referenceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseCalls++
	return nil
}

func (p *fakeProcessor) Refund(ctx context.Context, referenceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refundCalls++
	return nil
}

type fixture struct {
	resolver *Resolver
	ledger   *escrow.Ledger
	proc     *fakeProcessor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	proc := &fakeProcessor{}
	notifier := notify.NewNotifier(&notify.LogGateway{Log: zap.NewNop()}, zap.NewNop())
	t.Cleanup(notifier.Close)

	ledger := escrow.NewLedger(escrow.NewMemStore(), proc, notifier, zap.NewNop())
	resolver := NewResolver(NewMemStore(), ledger, notifier, zap.NewNop())
	return &fixture{resolver: resolver, ledger: ledger, proc: proc}
}

func (f *fixture) heldPayment(t *testing.T) escrow.Payment {
	t.Helper()
	p, err := f.ledger.OpenHold(context.Background(), escrow.OpenHoldParams{
		RequestID: "req-1",
		PayerID:   "payer-1",
		PayeeID:   "payee-1",
		Amount:    80,
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("open hold: %v", err)
	}
	return p
}

func TestOpenDisputeFlagsPayment(t *testing.T) {
	f := newFixture(t)
	p := f.heldPayment(t)

	rec, err := f.resolver.Open(context.Background(), OpenParams{
		PaymentID:  p.ID,
		RaisedByID: "payer-1",
		Reason:     "service not delivered",
	})
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if rec.Status != StatusOpen {
		t.Errorf("expected open, got %s", rec.Status)
	}

	flagged, err := f.ledger.Payment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if flagged.Status != escrow.StatusDisputed {
		t.Fatalf("expected disputed payment, got %s", flagged.Status)
	}
}

func TestOpenDisputeRefusedForNonParty(t *testing.T) {
	f := newFixture(t)
	p := f.heldPayment(t)

	_, err := f.resolver.Open(context.Background(), OpenParams{
		PaymentID:  p.ID,
		RaisedByID: "somebody-else",
		Reason:     "not my payment",
	})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOpenDisputeWindowClosesAtRelease(t *testing.T) {
	f := newFixture(t)
	p := f.heldPayment(t)
	if _, err := f.ledger.Release(context.Background(), p.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	_, err := f.resolver.Open(context.Background(), OpenParams{
		PaymentID:  p.ID,
		RaisedByID: "payer-1",
		Reason:     "too late",
	})
	if !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed, got %v", err)
	}
}

func TestSecondDisputeConflicts(t *testing.T) {
	f := newFixture(t)
	p := f.heldPayment(t)

	if _, err := f.resolver.Open(context.Background(), OpenParams{
		PaymentID: p.ID, RaisedByID: "payer-1", Reason: "no show",
	}); err != nil {
		t.Fatalf("first open: %v", err)
	}

	_, err := f.resolver.Open(context.Background(), OpenParams{
		PaymentID: p.ID, RaisedByID: "payee-1", Reason: "counter claim",
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for duplicate active dispute, got %v", err)
	}
	if !apperr.IsConflict(err) {
		t.Fatalf("duplicate dispute must classify as conflict, got %v", err)
	}
}

func TestResolveRefundedScenario(t *testing.T) {
	f := newFixture(t)
	p := f.heldPayment(t)

	rec, err := f.resolver.Open(context.Background(), OpenParams{
		PaymentID: p.ID, RaisedByID: "payer-1", Reason: "service not delivered",
	})
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	closed, err := f.resolver.Resolve(context.Background(), ResolveParams{
		DisputeID: rec.ID,
		Outcome:   OutcomeRefunded,
		AdminID:   "admin-1",
		Notes:     "confirmed no-show",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if closed.Status != StatusRefunded {
		t.Errorf("expected refunded dispute, got %s", closed.Status)
	}
	if closed.ResolvedAt == nil {
		t.Errorf("resolved_at must be stamped")
	}
	if closed.ResolvedByAdminID == nil || *closed.ResolvedByAdminID != "admin-1" {
		t.Errorf("resolving admin must be recorded, got %v", closed.ResolvedByAdminID)
	}
	if closed.AdminNotes != "confirmed no-show" {
		t.Errorf("admin notes must be recorded, got %q", closed.AdminNotes)
	}

	settled, err := f.ledger.Payment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if settled.Status != escrow.StatusRefunded {
		t.Fatalf("expected refunded payment, got %s", settled.Status)
	}
	if f.proc.refundCalls != 1 {
		t.Errorf("expected one refund transfer, got %d", f.proc.refundCalls)
	}
}

func TestResolveThroughReview(t *testing.T) {
	f := newFixture(t)
	p := f.heldPayment(t)
	rec, err := f.resolver.Open(context.Background(), OpenParams{
		PaymentID: p.ID, RaisedByID: "payee-1", Reason: "payment withheld unfairly",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	reviewed, err := f.resolver.BeginReview(context.Background(), rec.ID, "admin-1")
	if err != nil {
		t.Fatalf("begin review: %v", err)
	}
	if reviewed.Status != StatusUnderReview {
		t.Fatalf("expected under_review, got %s", reviewed.Status)
	}

	// Repeating the call is a no-op success.
	again, err := f.resolver.BeginReview(context.Background(), rec.ID, "admin-1")
	if err != nil {
		t.Fatalf("repeat begin review: %v", err)
	}
	if again.Status != StatusUnderReview {
		t.Fatalf("expected under_review, got %s", again.Status)
	}

	closed, err := f.resolver.Resolve(context.Background(), ResolveParams{
		DisputeID: rec.ID, Outcome: OutcomeRejected, AdminID: "admin-1", Notes: "evidence insufficient",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if closed.Status != StatusRejected {
		t.Errorf("expected rejected, got %s", closed.Status)
	}

	settled, _ := f.ledger.Payment(context.Background(), p.ID)
	if settled.Status != escrow.StatusReleased {
		t.Fatalf("rejected dispute must release funds to payee, got %s", settled.Status)
	}
	if f.proc.releaseCalls != 1 {
		t.Errorf("expected one release transfer, got %d", f.proc.releaseCalls)
	}
}

func TestResolveTwiceFails(t *testing.T) {
	f := newFixture(t)
	p := f.heldPayment(t)
	rec, err := f.resolver.Open(context.Background(), OpenParams{
		PaymentID: p.ID, RaisedByID: "payer-1", Reason: "no show",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := f.resolver.Resolve(context.Background(), ResolveParams{
		DisputeID: rec.ID, Outcome: OutcomeRefunded, AdminID: "admin-1",
	}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	_, err = f.resolver.Resolve(context.Background(), ResolveParams{
		DisputeID: rec.ID, Outcome: OutcomeResolved, AdminID: "admin-2",
	})
	if !apperr.IsStateTransition(err) {
		t.Fatalf("expected state transition error, got %v", err)
	}
	if f.proc.refundCalls != 1 || f.proc.releaseCalls != 0 {
		t.Errorf("second resolution must not move money again (refunds=%d releases=%d)",
			f.proc.refundCalls, f.proc.releaseCalls)
	}
}

func TestResolveValidation(t *testing.T) {
	f := newFixture(t)

	if _, err := f.resolver.Resolve(context.Background(), ResolveParams{
		DisputeID: "d", Outcome: "split-the-difference", AdminID: "admin-1",
	}); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
	if _, err := f.resolver.Resolve(context.Background(), ResolveParams{
		DisputeID: "d", Outcome: OutcomeRefunded,
	}); !errors.Is(err, ErrMissingAdmin) {
		t.Fatalf("expected ErrMissingAdmin, got %v", err)
	}
	if _, err := f.resolver.Resolve(context.Background(), ResolveParams{
		DisputeID: "missing", Outcome: OutcomeRefunded, AdminID: "admin-1",
	}); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewDisputeAllowedAfterTerminalOne(t *testing.T) {
	f := newFixture(t)
	p := f.heldPayment(t)
	rec, err := f.resolver.Open(context.Background(), OpenParams{
		PaymentID: p.ID, RaisedByID: "payer-1", Reason: "first",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.resolver.Resolve(context.Background(), ResolveParams{
		DisputeID: rec.ID, Outcome: OutcomeRefunded, AdminID: "admin-1",
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Payment is now terminal; a new dispute is out of the window even
	// though no active dispute exists.
	_, err = f.resolver.Open(context.Background(), OpenParams{
		PaymentID: p.ID, RaisedByID: "payer-1", Reason: "second",
	})
	if !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed, got %v", err)
	}
}
