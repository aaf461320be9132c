package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is the in-memory Store used by unit tests. Transitions carry the
// same conditional semantics as the Postgres implementation.
type MemStore struct {
	mu       sync.Mutex
	payments map[string]Payment
	escrows  map[string]Escrow
	now      func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		payments: make(map[string]Payment),
		escrows:  make(map[string]Escrow),
		now:      time.Now,
	}
}

func (s *MemStore) WithClock(now func() time.Time) *MemStore {
	s.now = now
	return s
}

func (s *MemStore) CreatePayment(ctx context.Context, p Payment) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.payments {
		if existing.RequestID == p.RequestID && !existing.Status.Terminal() {
			return Payment{}, ErrActivePayment
		}
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Status = StatusCreated
	p.Version = 1
	p.CreatedAt = s.now()
	s.payments[p.ID] = p
	return clonePayment(p), nil
}

func (s *MemStore) GetPayment(ctx context.Context, id string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (s *MemStore) ActivePaymentByRequest(ctx context.Context, requestID string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.RequestID == requestID && !p.Status.Terminal() {
			return clonePayment(p), nil
		}
	}
	return Payment{}, ErrPaymentNotFound
}

func (s *MemStore) DeletePayment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	if p.Status != StatusCreated {
		return ErrStatusConflict
	}
	delete(s.payments, id)
	return nil
}

func (s *MemStore) MarkHeld(ctx context.Context, paymentID, referenceID string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	if p.Status != StatusCreated {
		return Payment{}, ErrStatusConflict
	}

	p.Status = StatusHeldInEscrow
	p.Version++
	s.payments[paymentID] = p
	s.escrows[paymentID] = Escrow{
		PaymentID:   paymentID,
		Amount:      p.Amount,
		ReferenceID: referenceID,
		Status:      EscrowHeld,
		CreatedAt:   s.now(),
	}
	return clonePayment(p), nil
}

func (s *MemStore) Transition(ctx context.Context, paymentID string, from, to PaymentStatus) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	if p.Status != from {
		return Payment{}, ErrStatusConflict
	}

	p.Status = to
	p.Version++
	if to.Terminal() {
		done := s.now()
		p.CompletedAt = &done

		if esc, ok := s.escrows[paymentID]; ok {
			if to == StatusReleased {
				esc.Status = EscrowReleased
			} else {
				esc.Status = EscrowRefunded
			}
			released := done
			esc.ReleasedAt = &released
			s.escrows[paymentID] = esc
		}
	}
	s.payments[paymentID] = p
	return clonePayment(p), nil
}

func (s *MemStore) GetEscrow(ctx context.Context, paymentID string) (Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	esc, ok := s.escrows[paymentID]
	if !ok {
		return Escrow{}, ErrEscrowNotFound
	}
	return cloneEscrow(esc), nil
}

func clonePayment(p Payment) Payment {
	if p.CompletedAt != nil {
		ts := *p.CompletedAt
		p.CompletedAt = &ts
	}
	return p
}

func cloneEscrow(e Escrow) Escrow {
	if e.ReleasedAt != nil {
		ts := *e.ReleasedAt
		e.ReleasedAt = &ts
	}
	return e
}
