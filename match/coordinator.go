// Package match commits the pairing of a request with an offer. The
// coordinator is the only component allowed to mutate IsMatched,
// MatchedOfferID and IsAvailable.
package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"travelmatch/apperr"
	"travelmatch/catalog"
	"travelmatch/escrow"
	"travelmatch/matching"
	"travelmatch/notify"
)

var (
	ErrRequestMissing     = apperr.New(apperr.KindNotFound, "match: request not found")
	ErrOfferMissing       = apperr.New(apperr.KindNotFound, "match: offer not found")
	ErrRequestUnavailable = apperr.New(apperr.KindConflict, "match: request inactive or already matched")
	ErrOfferUnavailable   = apperr.New(apperr.KindConflict, "match: offer no longer available")
	ErrIncompatible       = apperr.New(apperr.KindValidation, "match: request and offer are not compatible")
	ErrNotMatched         = apperr.New(apperr.KindConflict, "match: request is not matched")
)

// Match is the committed pairing of one request with one offer, created the
// instant both flags flip together.
type Match struct {
	RequestID string
	OfferID   string
	PaymentID string
	MatchedAt time.Time
}

// Ledger is the slice of the escrow ledger the coordinator drives.
type Ledger interface {
	OpenHold(ctx context.Context, params escrow.OpenHoldParams) (escrow.Payment, error)
	ActivePayment(ctx context.Context, requestID string) (escrow.Payment, error)
	Refund(ctx context.Context, paymentID string) (escrow.Payment, error)
}

const defaultHoldTimeout = 10 * time.Second

// Coordinator transitions a (request, offer) pair from unmatched to
// matched. The commit and the escrow hold form one logical unit of work:
// if the hold cannot be obtained the pair reverts to its pre-commit state.
type Coordinator struct {
	store       catalog.Store
	ledger      Ledger
	notifier    *notify.Notifier
	log         *zap.Logger
	holdTimeout time.Duration
	now         func() time.Time
}

func NewCoordinator(store catalog.Store, ledger Ledger, notifier *notify.Notifier, log *zap.Logger) *Coordinator {
	return &Coordinator{
		store:       store,
		ledger:      ledger,
		notifier:    notifier,
		log:         log,
		holdTimeout: defaultHoldTimeout,
		now:         time.Now,
	}
}

// WithHoldTimeout bounds how long a commit waits on the escrow hold.
func (c *Coordinator) WithHoldTimeout(d time.Duration) *Coordinator {
	if d > 0 {
		c.holdTimeout = d
	}
	return c
}

// WithClock overrides the timestamp source for deterministic tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// CommitMatch re-validates compatibility and flips both flags through
// conditional writes: the offer first, because the contended offer row is
// what decides a race, then the request, then the escrow hold. Any later
// step failing unwinds the earlier ones. Exactly one of N concurrent
// commits for the same offer succeeds; the others observe a conflict.
func (c *Coordinator) CommitMatch(ctx context.Context, requestID, offerID string) (Match, error) {
	if requestID == "" || offerID == "" {
		return Match{}, apperr.New(apperr.KindValidation, "match: request id and offer id required")
	}

	req, err := c.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, catalog.ErrRequestNotFound) {
			return Match{}, ErrRequestMissing
		}
		return Match{}, fmt.Errorf("match: load request: %w", err)
	}
	off, err := c.store.GetOffer(ctx, offerID)
	if err != nil {
		if errors.Is(err, catalog.ErrOfferNotFound) {
			return Match{}, ErrOfferMissing
		}
		return Match{}, fmt.Errorf("match: load offer: %w", err)
	}

	if !req.IsActive || req.IsMatched {
		return Match{}, ErrRequestUnavailable
	}
	if !off.IsAvailable {
		return Match{}, ErrOfferUnavailable
	}
	// The candidate list the caller consumed may be stale; the compatibility
	// re-check at commit time is mandatory.
	if !matching.Compatible(req, off) {
		return Match{}, ErrIncompatible
	}

	consumed, err := c.consumeOffer(ctx, off)
	if err != nil {
		return Match{}, err
	}

	matched, err := c.markRequestMatched(ctx, req, offerID)
	if err != nil {
		c.releaseOffer(ctx, consumed)
		return Match{}, err
	}

	holdCtx, cancel := context.WithTimeout(ctx, c.holdTimeout)
	defer cancel()

	payment, err := c.ledger.OpenHold(holdCtx, escrow.OpenHoldParams{
		RequestID: req.ID,
		PayerID:   req.RequesterID,
		PayeeID:   off.HelperID,
		Amount:    req.Amount,
		Currency:  req.Currency,
	})
	if err != nil {
		c.unmarkRequest(ctx, matched)
		c.releaseOffer(ctx, consumed)
		return Match{}, err
	}

	m := Match{
		RequestID: req.ID,
		OfferID:   off.ID,
		PaymentID: payment.ID,
		MatchedAt: c.now(),
	}

	payload := map[string]any{
		"request_id": m.RequestID,
		"offer_id":   m.OfferID,
		"payment_id": m.PaymentID,
	}
	c.notifier.Send(req.RequesterID, notify.EventMatchCommitted, payload)
	c.notifier.Send(off.HelperID, notify.EventMatchCommitted, payload)

	return m, nil
}

// CancelMatch is the explicit cancellation-of-match path: it refunds the
// held payment and reverts the pair to unmatched/available. Only the
// requester, the helper or an admin reaches this through the API layer.
func (c *Coordinator) CancelMatch(ctx context.Context, requestID string) (catalog.Request, error) {
	req, err := c.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, catalog.ErrRequestNotFound) {
			return catalog.Request{}, ErrRequestMissing
		}
		return catalog.Request{}, fmt.Errorf("match: load request: %w", err)
	}
	if !req.IsMatched || req.MatchedOfferID == nil {
		return catalog.Request{}, ErrNotMatched
	}
	offerID := *req.MatchedOfferID

	payment, err := c.ledger.ActivePayment(ctx, requestID)
	if err == nil {
		// Refund before touching the flags so a processor failure leaves the
		// match intact rather than half-cancelled.
		if _, err := c.ledger.Refund(ctx, payment.ID); err != nil {
			return catalog.Request{}, err
		}
	} else if !apperr.IsNotFound(err) {
		return catalog.Request{}, err
	}

	req.IsMatched = false
	req.MatchedOfferID = nil
	updated, err := c.store.UpdateRequest(ctx, req, req.Version)
	if err != nil {
		if errors.Is(err, catalog.ErrVersionConflict) {
			return catalog.Request{}, apperr.Wrap(apperr.KindConflict, "match: concurrent writer changed request", err)
		}
		return catalog.Request{}, fmt.Errorf("match: unmatch request: %w", err)
	}

	off, err := c.store.GetOffer(ctx, offerID)
	if err == nil {
		off.IsAvailable = true
		if _, err := c.store.UpdateOffer(ctx, off, off.Version); err != nil {
			c.log.Error("failed to restore offer availability on cancel",
				zap.String("offer_id", offerID), zap.Error(err))
		}
	}

	payload := map[string]any{
		"request_id": requestID,
		"offer_id":   offerID,
	}
	c.notifier.Send(updated.RequesterID, notify.EventMatchCancelled, payload)
	if off.HelperID != "" {
		c.notifier.Send(off.HelperID, notify.EventMatchCancelled, payload)
	}

	return updated, nil
}

// consumeOffer flips the offer unavailable through a conditional write; a
// lost write means another commit won the offer.
func (c *Coordinator) consumeOffer(ctx context.Context, off catalog.Offer) (catalog.Offer, error) {
	off.IsAvailable = false
	consumed, err := c.store.UpdateOffer(ctx, off, off.Version)
	if err != nil {
		if errors.Is(err, catalog.ErrVersionConflict) {
			return catalog.Offer{}, ErrOfferUnavailable
		}
		if errors.Is(err, catalog.ErrOfferNotFound) {
			return catalog.Offer{}, ErrOfferMissing
		}
		return catalog.Offer{}, fmt.Errorf("match: consume offer: %w", err)
	}
	return consumed, nil
}

func (c *Coordinator) markRequestMatched(ctx context.Context, req catalog.Request, offerID string) (catalog.Request, error) {
	req.IsMatched = true
	req.MatchedOfferID = &offerID
	matched, err := c.store.UpdateRequest(ctx, req, req.Version)
	if err != nil {
		if errors.Is(err, catalog.ErrVersionConflict) {
			return catalog.Request{}, ErrRequestUnavailable
		}
		if errors.Is(err, catalog.ErrRequestNotFound) {
			return catalog.Request{}, ErrRequestMissing
		}
		return catalog.Request{}, fmt.Errorf("match: mark request matched: %w", err)
	}
	return matched, nil
}

// releaseOffer undoes consumeOffer during rollback. Failures are logged;
// the commit error the caller sees is the original cause.
func (c *Coordinator) releaseOffer(ctx context.Context, off catalog.Offer) {
	off.IsAvailable = true
	if _, err := c.store.UpdateOffer(ctx, off, off.Version); err != nil {
		c.log.Error("rollback failed to restore offer availability",
			zap.String("offer_id", off.ID), zap.Error(err))
	}
}

func (c *Coordinator) unmarkRequest(ctx context.Context, req catalog.Request) {
	req.IsMatched = false
	req.MatchedOfferID = nil
	if _, err := c.store.UpdateRequest(ctx, req, req.Version); err != nil {
		c.log.Error("rollback failed to unmatch request",
			zap.String("request_id", req.ID), zap.Error(err))
	}
}
