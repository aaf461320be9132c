// Package notify delivers user-facing events through the external
// notification gateway. Delivery is strictly best-effort: a gateway failure
// is logged and swallowed, never surfaced to the mutating operation that
// produced the event.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types emitted by the core components.
const (
	EventMatchCommitted = "match.committed"
	EventMatchCancelled = "match.cancelled"
	EventEscrowHeld     = "escrow.held"
	EventEscrowReleased = "escrow.released"
	EventEscrowRefunded = "escrow.refunded"
	EventDisputeOpened  = "dispute.opened"
	EventDisputeReview  = "dispute.under_review"
	EventDisputeClosed  = "dispute.closed"
)

// Gateway is the external delivery interface. Implementations choose the
// channel (push, email, chat); the core only hands over the event.
type Gateway interface {
	Notify(ctx context.Context, userID, eventType string, payload map[string]any) error
}

// Notifier fans events out to the gateway on background goroutines so the
// owning transaction never blocks on delivery.
type Notifier struct {
	gw      Gateway
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewNotifier(gw Gateway, log *zap.Logger) *Notifier {
	return &Notifier{
		gw:      gw,
		log:     log,
		timeout: 5 * time.Second,
	}
}

// Send dispatches the event asynchronously. Failures are logged only.
func (n *Notifier) Send(userID, eventType string, payload map[string]any) {
	if n == nil || n.gw == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		if err := n.gw.Notify(ctx, userID, eventType, payload); err != nil {
			n.log.Warn("notification delivery failed",
				zap.String("user_id", userID),
				zap.String("event_type", eventType),
				zap.Error(err),
			)
		}
	}()
}

// Close waits for in-flight deliveries to finish.
func (n *Notifier) Close() {
	n.wg.Wait()
}

// LogGateway writes events to the log instead of a real transport. It
// stands in wherever the platform's delivery service is not wired up.
type LogGateway struct {
	Log *zap.Logger
}

func (g *LogGateway) Notify(ctx context.Context, userID, eventType string, payload map[string]any) error {
	g.Log.Info("notify",
		zap.String("user_id", userID),
		zap.String("event_type", eventType),
		zap.Any("payload", payload),
	)
	return nil
}
