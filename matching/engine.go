// Package matching ranks candidate offers for a service request. The engine
// is read-only: it never mutates catalog state, so it is safe to call
// concurrently and repeatedly.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"travelmatch/apperr"
	"travelmatch/catalog"
)

var (
	// ErrRequestNotFound is returned when the request id resolves to nothing.
	ErrRequestNotFound = apperr.New(apperr.KindNotFound, "matching: request not found")
	// ErrInvalidMaxResults is returned for a non-positive result cap.
	ErrInvalidMaxResults = apperr.New(apperr.KindValidation, "matching: max results must be positive")
)

type Engine struct {
	store catalog.Store
}

func NewEngine(store catalog.Store) *Engine {
	return &Engine{store: store}
}

// FindCandidates returns up to maxResults offers compatible with the
// request, best first. An empty slice is a normal outcome, not an error.
func (e *Engine) FindCandidates(ctx context.Context, requestID string, maxResults int) ([]catalog.Offer, error) {
	if maxResults <= 0 {
		return nil, ErrInvalidMaxResults
	}

	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, catalog.ErrRequestNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("matching: load request: %w", err)
	}

	// A matched or inactive request has nothing left to match against.
	if !req.IsActive || req.IsMatched {
		return []catalog.Offer{}, nil
	}

	offers, err := e.store.FindOffers(ctx, filterFor(req))
	if err != nil {
		return nil, fmt.Errorf("matching: find offers: %w", err)
	}

	candidates := offers[:0]
	for _, off := range offers {
		if Compatible(req, off) {
			candidates = append(candidates, off)
		}
	}

	rank(candidates)

	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}
	return candidates, nil
}

// filterFor translates the request's hard constraints into a store filter.
// Compatible re-checks everything afterwards so both store implementations
// may return a superset.
func filterFor(req catalog.Request) catalog.Filter {
	f := catalog.Filter{
		Category:      req.Category,
		Origin:        req.Origin,
		TravelDate:    req.TravelDate,
		MinSeats:      req.Seats,
		NeedsLuggage:  req.NeedsLuggage,
		OnlyAvailable: true,
	}
	if req.Category == catalog.CategoryFlightCompanion {
		f.Destination = req.Destination
	}
	return f
}

// Compatible reports whether the offer satisfies every hard filter of the
// request. The match coordinator re-runs this at commit time because the
// candidate list a caller holds may be stale.
func Compatible(req catalog.Request, off catalog.Offer) bool {
	if off.Category != req.Category {
		return false
	}
	if off.Origin != req.Origin {
		return false
	}
	// Companion trips must agree on both endpoints; pickups only on the airport.
	if req.Category == catalog.CategoryFlightCompanion && off.Destination != req.Destination {
		return false
	}
	if req.TravelDate.Before(off.WindowStart) || req.TravelDate.After(off.WindowEnd) {
		return false
	}
	if off.Seats < req.Seats {
		return false
	}
	if req.NeedsLuggage && !off.HandlesLuggage {
		return false
	}
	return off.IsAvailable
}

// rank orders candidates by helper rating (desc), then price (asc), then
// completed-service count (desc) as the final tiebreak.
func rank(offers []catalog.Offer) {
	sort.SliceStable(offers, func(i, j int) bool {
		a, b := offers[i], offers[j]
		if a.HelperRating != b.HelperRating {
			return a.HelperRating > b.HelperRating
		}
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		return a.CompletedCount > b.CompletedCount
	})
}
