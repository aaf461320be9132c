package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"travelmatch/apperr"
	"travelmatch/catalog"
	"travelmatch/escrow"
	"travelmatch/notify"
)

type fakeProcessor struct {
	mu          sync.Mutex
	holdCalls   int
	refundCalls int
	holdErr     error
	refundErr   error
}

func (p *fakeProcessor) AuthorizeHold(ctx context.Context, amount int64, currency, payerID, payeeID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdCalls++
	if p.holdErr != nil {
		return "", p.holdErr
	}
	return fmt.Sprintf("ref-%d", p.holdCalls), nil
}

func (p *fakeProcessor) Release(ctx context.Context, referenceID string) error {
	return nil
}

func (p *fakeProcessor) Refund(ctx context.Context, referenceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refundCalls++
	return p.refundErr
}

type fixture struct {
	coord   *Coordinator
	catalog *catalog.MemStore
	escrow  *escrow.MemStore
	ledger  *escrow.Ledger
	proc    *fakeProcessor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := catalog.NewMemStore()
	esc := escrow.NewMemStore()
	proc := &fakeProcessor{}
	notifier := notify.NewNotifier(&notify.LogGateway{Log: zap.NewNop()}, zap.NewNop())
	t.Cleanup(notifier.Close)
	ledger := escrow.NewLedger(esc, proc, notifier, zap.NewNop())
	coord := NewCoordinator(cat, ledger, notifier, zap.NewNop())
	return &fixture{coord: coord, catalog: cat, escrow: esc, ledger: ledger, proc: proc}
}

func (f *fixture) seedPair(t *testing.T) (catalog.Request, catalog.Offer) {
	t.Helper()
	date := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	req, err := f.catalog.CreateRequest(context.Background(), catalog.Request{
		ID:          "req-1",
		RequesterID: "alice",
		Category:    catalog.CategoryFlightCompanion,
		Origin:      "PVG",
		Destination: "JFK",
		TravelDate:  date,
		Seats:       1,
		Amount:      80,
		Currency:    "USD",
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
	off, err := f.catalog.CreateOffer(context.Background(), catalog.Offer{
		ID:           "off-1",
		HelperID:     "bob",
		Category:     catalog.CategoryFlightCompanion,
		Origin:       "PVG",
		Destination:  "JFK",
		WindowStart:  date.AddDate(0, 0, -2),
		WindowEnd:    date.AddDate(0, 0, 2),
		Seats:        2,
		Price:        75,
		Currency:     "USD",
		HelperRating: 4.8,
		IsAvailable:  true,
	})
	if err != nil {
		t.Fatalf("seed offer: %v", err)
	}
	return req, off
}

func TestCommitMatchHoldsFunds(t *testing.T) {
	f := newFixture(t)
	req, off := f.seedPair(t)

	m, err := f.coord.CommitMatch(context.Background(), req.ID, off.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if m.RequestID != req.ID || m.OfferID != off.ID || m.PaymentID == "" {
		t.Fatalf("unexpected match %+v", m)
	}

	gotReq, _ := f.catalog.GetRequest(context.Background(), req.ID)
	if !gotReq.IsMatched || gotReq.MatchedOfferID == nil || *gotReq.MatchedOfferID != off.ID {
		t.Errorf("request not marked matched: %+v", gotReq)
	}
	gotOff, _ := f.catalog.GetOffer(context.Background(), off.ID)
	if gotOff.IsAvailable {
		t.Errorf("offer still available after commit")
	}

	p, err := f.ledger.Payment(context.Background(), m.PaymentID)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if p.Status != escrow.StatusHeldInEscrow {
		t.Errorf("expected held_in_escrow, got %s", p.Status)
	}
	if p.Amount != 80 {
		t.Errorf("hold should use the request amount, got %d", p.Amount)
	}
	if p.PayerID != "alice" || p.PayeeID != "bob" {
		t.Errorf("payer/payee wrong: %+v", p)
	}
}

func TestCommitMatchConsumedOfferConflicts(t *testing.T) {
	f := newFixture(t)
	req, off := f.seedPair(t)

	if _, err := f.coord.CommitMatch(context.Background(), req.ID, off.ID); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	req2, err := f.catalog.CreateRequest(context.Background(), catalog.Request{
		ID:          "req-2",
		RequesterID: "carol",
		Category:    catalog.CategoryFlightCompanion,
		Origin:      "PVG",
		Destination: "JFK",
		TravelDate:  time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Seats:       1,
		Amount:      90,
		Currency:    "USD",
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("seed second request: %v", err)
	}

	_, err = f.coord.CommitMatch(context.Background(), req2.ID, off.ID)
	if !errors.Is(err, ErrOfferUnavailable) {
		t.Fatalf("expected offer unavailable conflict, got %v", err)
	}
	if !apperr.IsConflict(err) {
		t.Errorf("expected conflict kind, got %v", err)
	}
}

func TestCommitMatchIncompatiblePair(t *testing.T) {
	f := newFixture(t)
	req, _ := f.seedPair(t)

	off, err := f.catalog.CreateOffer(context.Background(), catalog.Offer{
		ID:          "off-wrong-route",
		HelperID:    "dave",
		Category:    catalog.CategoryFlightCompanion,
		Origin:      "LHR",
		Destination: "JFK",
		WindowStart: req.TravelDate.AddDate(0, 0, -1),
		WindowEnd:   req.TravelDate.AddDate(0, 0, 1),
		Seats:       1,
		Price:       60,
		Currency:    "USD",
		IsAvailable: true,
	})
	if err != nil {
		t.Fatalf("seed offer: %v", err)
	}

	if _, err := f.coord.CommitMatch(context.Background(), req.ID, off.ID); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("expected incompatible, got %v", err)
	}
	if f.proc.holdCalls != 0 {
		t.Errorf("no hold should be attempted for an incompatible pair")
	}
}

func TestCommitMatchHoldFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	req, off := f.seedPair(t)
	f.proc.holdErr = errors.New("processor down")

	_, err := f.coord.CommitMatch(context.Background(), req.ID, off.ID)
	if err == nil {
		t.Fatal("expected commit to fail when the hold fails")
	}
	if !apperr.IsExternal(err) {
		t.Errorf("expected external error kind, got %v", err)
	}

	gotReq, _ := f.catalog.GetRequest(context.Background(), req.ID)
	if gotReq.IsMatched || gotReq.MatchedOfferID != nil {
		t.Errorf("request should be unmatched after rollback: %+v", gotReq)
	}
	gotOff, _ := f.catalog.GetOffer(context.Background(), off.ID)
	if !gotOff.IsAvailable {
		t.Errorf("offer should be available again after rollback")
	}
	if _, err := f.ledger.ActivePayment(context.Background(), req.ID); !apperr.IsNotFound(err) {
		t.Errorf("no payment should survive a failed hold, got %v", err)
	}

	// A retry after the processor recovers must succeed.
	f.proc.mu.Lock()
	f.proc.holdErr = nil
	f.proc.mu.Unlock()
	if _, err := f.coord.CommitMatch(context.Background(), req.ID, off.ID); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
}

func TestCommitMatchSingleWinner(t *testing.T) {
	f := newFixture(t)
	_, off := f.seedPair(t)

	const racers = 12
	date := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, racers)
	for i := range ids {
		ids[i] = fmt.Sprintf("race-req-%d", i)
		_, err := f.catalog.CreateRequest(context.Background(), catalog.Request{
			ID:          ids[i],
			RequesterID: fmt.Sprintf("racer-%d", i),
			Category:    catalog.CategoryFlightCompanion,
			Origin:      "PVG",
			Destination: "JFK",
			TravelDate:  date,
			Seats:       1,
			Amount:      80,
			Currency:    "USD",
			IsActive:    true,
		})
		if err != nil {
			t.Fatalf("seed racer %d: %v", i, err)
		}
	}

	var (
		mu   sync.Mutex
		wins int
	)
	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := f.coord.CommitMatch(context.Background(), id, off.ID)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return nil
			}
			if apperr.IsConflict(err) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("racer failed unexpectedly: %v", err)
	}

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if f.proc.holdCalls != 1 {
		t.Errorf("expected exactly one hold authorization, got %d", f.proc.holdCalls)
	}
	gotOff, _ := f.catalog.GetOffer(context.Background(), off.ID)
	if gotOff.IsAvailable {
		t.Errorf("offer should be consumed by the winner")
	}
}

func TestCancelMatchRefundsAndReverts(t *testing.T) {
	f := newFixture(t)
	req, off := f.seedPair(t)

	m, err := f.coord.CommitMatch(context.Background(), req.ID, off.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := f.coord.CancelMatch(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.IsMatched || got.MatchedOfferID != nil {
		t.Errorf("request should be unmatched: %+v", got)
	}
	gotOff, _ := f.catalog.GetOffer(context.Background(), off.ID)
	if !gotOff.IsAvailable {
		t.Errorf("offer should be available again")
	}
	p, err := f.ledger.Payment(context.Background(), m.PaymentID)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if p.Status != escrow.StatusRefunded {
		t.Errorf("expected refunded payment, got %s", p.Status)
	}
	if f.proc.refundCalls != 1 {
		t.Errorf("expected one refund call, got %d", f.proc.refundCalls)
	}
}

func TestCancelMatchRefundFailureKeepsMatch(t *testing.T) {
	f := newFixture(t)
	req, off := f.seedPair(t)
	if _, err := f.coord.CommitMatch(context.Background(), req.ID, off.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}

	f.proc.refundErr = errors.New("processor down")
	if _, err := f.coord.CancelMatch(context.Background(), req.ID); err == nil {
		t.Fatal("expected cancel to fail when the refund fails")
	}

	gotReq, _ := f.catalog.GetRequest(context.Background(), req.ID)
	if !gotReq.IsMatched {
		t.Errorf("match must stay intact when the refund fails")
	}
	gotOff, _ := f.catalog.GetOffer(context.Background(), off.ID)
	if gotOff.IsAvailable {
		t.Errorf("offer must stay consumed when the refund fails")
	}
}

func TestCancelMatchUnmatchedRequest(t *testing.T) {
	f := newFixture(t)
	req, _ := f.seedPair(t)

	if _, err := f.coord.CancelMatch(context.Background(), req.ID); !errors.Is(err, ErrNotMatched) {
		t.Fatalf("expected not matched conflict, got %v", err)
	}
}

func TestCommitMatchMissingRows(t *testing.T) {
	f := newFixture(t)
	req, off := f.seedPair(t)

	if _, err := f.coord.CommitMatch(context.Background(), "nope", off.ID); !errors.Is(err, ErrRequestMissing) {
		t.Fatalf("expected request missing, got %v", err)
	}
	if _, err := f.coord.CommitMatch(context.Background(), req.ID, "nope"); !errors.Is(err, ErrOfferMissing) {
		t.Fatalf("expected offer missing, got %v", err)
	}
	if _, err := f.coord.CommitMatch(context.Background(), "", ""); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
