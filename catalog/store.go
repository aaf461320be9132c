package catalog

import (
	"context"
	"errors"
)

var (
	// ErrRequestNotFound is returned when no request row exists for the id.
	ErrRequestNotFound = errors.New("catalog: request not found")
	// ErrOfferNotFound is returned when no offer row exists for the id.
	ErrOfferNotFound = errors.New("catalog: offer not found")
	// ErrVersionConflict signals a conditional write lost to a concurrent
	// writer: the stored version no longer matches the caller's.
	ErrVersionConflict = errors.New("catalog: version conflict")
)

// Store is the catalog persistence boundary. All mutating writes are
// conditional on the version the caller last observed, so a losing
// concurrent writer sees ErrVersionConflict instead of silently
// overwriting state. The match coordinator is the only caller allowed to
// touch IsMatched/MatchedOfferID/IsAvailable.
type Store interface {
	CreateRequest(ctx context.Context, req Request) (Request, error)
	GetRequest(ctx context.Context, id string) (Request, error)
	// UpdateRequest writes req's mutable fields if the stored version still
	// equals expectedVersion, returning the row with the bumped version.
	UpdateRequest(ctx context.Context, req Request, expectedVersion int64) (Request, error)

	CreateOffer(ctx context.Context, off Offer) (Offer, error)
	GetOffer(ctx context.Context, id string) (Offer, error)
	UpdateOffer(ctx context.Context, off Offer, expectedVersion int64) (Offer, error)

	// FindOffers returns offers satisfying the filter in unspecified order;
	// ranking belongs to the matching engine.
	FindOffers(ctx context.Context, f Filter) ([]Offer, error)
	ListRequests(ctx context.Context, requesterID string) ([]Request, error)
}
