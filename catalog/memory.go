package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store with the same conditional-write semantics
// as the Postgres implementation. It backs unit tests and lets the
// concurrency guarantees be exercised without a database.
type MemStore struct {
	mu       sync.Mutex
	requests map[string]Request
	offers   map[string]Offer
	now      func() time.Time
	idGen    func() string
}

func NewMemStore() *MemStore {
	return &MemStore{
		requests: make(map[string]Request),
		offers:   make(map[string]Offer),
		now:      time.Now,
		idGen:    func() string { return uuid.NewString() },
	}
}

// WithClock overrides the timestamp source for deterministic tests.
func (s *MemStore) WithClock(now func() time.Time) *MemStore {
	s.now = now
	return s
}

func (s *MemStore) CreateRequest(ctx context.Context, req Request) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = s.idGen()
	}
	req.Version = 1
	req.CreatedAt = s.now()
	req.UpdatedAt = req.CreatedAt
	s.requests[req.ID] = cloneRequest(req)
	return req, nil
}

func (s *MemStore) GetRequest(ctx context.Context, id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return cloneRequest(req), nil
}

func (s *MemStore) UpdateRequest(ctx context.Context, req Request, expectedVersion int64) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[req.ID]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	if current.Version != expectedVersion {
		return Request{}, ErrVersionConflict
	}

	req.Version = expectedVersion + 1
	req.CreatedAt = current.CreatedAt
	req.UpdatedAt = s.now()
	s.requests[req.ID] = cloneRequest(req)
	return req, nil
}

func (s *MemStore) CreateOffer(ctx context.Context, off Offer) (Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if off.ID == "" {
		off.ID = s.idGen()
	}
	off.Version = 1
	off.CreatedAt = s.now()
	off.UpdatedAt = off.CreatedAt
	s.offers[off.ID] = off
	return off, nil
}

func (s *MemStore) GetOffer(ctx context.Context, id string) (Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	off, ok := s.offers[id]
	if !ok {
		return Offer{}, ErrOfferNotFound
	}
	return off, nil
}

func (s *MemStore) UpdateOffer(ctx context.Context, off Offer, expectedVersion int64) (Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.offers[off.ID]
	if !ok {
		return Offer{}, ErrOfferNotFound
	}
	if current.Version != expectedVersion {
		return Offer{}, ErrVersionConflict
	}

	off.Version = expectedVersion + 1
	off.CreatedAt = current.CreatedAt
	off.UpdatedAt = s.now()
	s.offers[off.ID] = off
	return off, nil
}

func (s *MemStore) FindOffers(ctx context.Context, f Filter) ([]Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Offer, 0, 8)
	for _, off := range s.offers {
		if !matchesFilter(off, f) {
			continue
		}
		out = append(out, off)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemStore) ListRequests(ctx context.Context, requesterID string) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Request, 0, 8)
	for _, req := range s.requests {
		if requesterID != "" && req.RequesterID != requesterID {
			continue
		}
		out = append(out, cloneRequest(req))
	}
	return out, nil
}

func matchesFilter(off Offer, f Filter) bool {
	if f.Category != "" && off.Category != f.Category {
		return false
	}
	if f.Origin != "" && off.Origin != f.Origin {
		return false
	}
	if f.Destination != "" && off.Destination != f.Destination {
		return false
	}
	if !f.TravelDate.IsZero() {
		if f.TravelDate.Before(off.WindowStart) || f.TravelDate.After(off.WindowEnd) {
			return false
		}
	}
	if f.MinSeats > 0 && off.Seats < f.MinSeats {
		return false
	}
	if f.NeedsLuggage && !off.HandlesLuggage {
		return false
	}
	if f.OnlyAvailable && !off.IsAvailable {
		return false
	}
	return true
}

func cloneRequest(req Request) Request {
	if req.MatchedOfferID != nil {
		id := *req.MatchedOfferID
		req.MatchedOfferID = &id
	}
	return req
}
