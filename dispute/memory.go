package dispute

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is the in-memory Store used by unit tests, with the same
// conditional-transition semantics as the Postgres implementation.
type MemStore struct {
	mu       sync.Mutex
	disputes map[string]Record
	now      func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		disputes: make(map[string]Record),
		now:      time.Now,
	}
}

func (s *MemStore) WithClock(now func() time.Time) *MemStore {
	s.now = now
	return s
}

func (s *MemStore) Create(ctx context.Context, d Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.disputes {
		if existing.PaymentID == d.PaymentID && !existing.Status.Terminal() {
			return Record{}, ErrActiveDispute
		}
	}

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.Status = StatusOpen
	d.CreatedAt = s.now()
	d.UpdatedAt = d.CreatedAt
	s.disputes[d.ID] = d
	return cloneRecord(d), nil
}

func (s *MemStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.disputes[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(d), nil
}

func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.disputes[id]
	if !ok {
		return ErrNotFound
	}
	if d.Status != StatusOpen {
		return ErrStatusConflict
	}
	delete(s.disputes, id)
	return nil
}

func (s *MemStore) BeginReview(ctx context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.disputes[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if d.Status != StatusOpen {
		return Record{}, ErrStatusConflict
	}

	d.Status = StatusUnderReview
	d.UpdatedAt = s.now()
	s.disputes[id] = d
	return cloneRecord(d), nil
}

func (s *MemStore) Close(ctx context.Context, id string, to Status, adminID, notes string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.disputes[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if d.Status != StatusOpen && d.Status != StatusUnderReview {
		return Record{}, ErrStatusConflict
	}

	resolvedAt := s.now()
	d.Status = to
	d.AdminNotes = notes
	d.ResolvedByAdminID = &adminID
	d.ResolvedAt = &resolvedAt
	d.UpdatedAt = resolvedAt
	s.disputes[id] = d
	return cloneRecord(d), nil
}

func (s *MemStore) ListByPayment(ctx context.Context, paymentID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, 4)
	for _, d := range s.disputes {
		if d.PaymentID == paymentID {
			out = append(out, cloneRecord(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneRecord(d Record) Record {
	if d.ResolvedByAdminID != nil {
		id := *d.ResolvedByAdminID
		d.ResolvedByAdminID = &id
	}
	if d.ResolvedAt != nil {
		ts := *d.ResolvedAt
		d.ResolvedAt = &ts
	}
	return d
}
