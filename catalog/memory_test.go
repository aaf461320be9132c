package catalog

import (
	"context"
	"sync"
	"testing"
	"time"
)

func seedOffer(t *testing.T, s *MemStore, off Offer) Offer {
	t.Helper()
	created, err := s.CreateOffer(context.Background(), off)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return created
}

func TestUpdateOfferVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	off := seedOffer(t, store, Offer{HelperID: "helper-1", Category: CategoryPickup, IsAvailable: true})

	off.IsAvailable = false
	updated, err := store.UpdateOffer(ctx, off, off.Version)
	if err != nil {
		t.Fatalf("first conditional write should win: %v", err)
	}
	if updated.Version != off.Version+1 {
		t.Errorf("expected version bump to %d, got %d", off.Version+1, updated.Version)
	}

	// Second writer still holds the stale version.
	off.IsAvailable = false
	if _, err := store.UpdateOffer(ctx, off, off.Version); err != ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestUpdateRequestNotFound(t *testing.T) {
	store := NewMemStore()
	_, err := store.UpdateRequest(context.Background(), Request{ID: "missing"}, 1)
	if err != ErrRequestNotFound {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestConcurrentConditionalWritesSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	off := seedOffer(t, store, Offer{HelperID: "helper-1", Category: CategoryPickup, IsAvailable: true})

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	conflicts := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			candidate := off
			candidate.IsAvailable = false
			if _, err := store.UpdateOffer(ctx, candidate, off.Version); err != nil {
				conflicts <- err
				return
			}
			wins <- struct{}{}
		}()
	}
	wg.Wait()
	close(wins)
	close(conflicts)

	if got := len(wins); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
	for err := range conflicts {
		if err != ErrVersionConflict {
			t.Errorf("loser should observe ErrVersionConflict, got %v", err)
		}
	}
}

func TestFindOffersFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	day := time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC)

	match := seedOffer(t, store, Offer{
		HelperID:       "helper-1",
		Category:       CategoryFlightCompanion,
		Origin:         "AKL",
		Destination:    "PVG",
		WindowStart:    day.AddDate(0, 0, -2),
		WindowEnd:      day.AddDate(0, 0, 2),
		Seats:          4,
		HandlesLuggage: true,
		IsAvailable:    true,
	})
	// Wrong route.
	seedOffer(t, store, Offer{
		HelperID: "helper-2", Category: CategoryFlightCompanion,
		Origin: "AKL", Destination: "SYD",
		WindowStart: day.AddDate(0, 0, -2), WindowEnd: day.AddDate(0, 0, 2),
		Seats: 4, IsAvailable: true,
	})
	// Window does not contain the date.
	seedOffer(t, store, Offer{
		HelperID: "helper-3", Category: CategoryFlightCompanion,
		Origin: "AKL", Destination: "PVG",
		WindowStart: day.AddDate(0, 0, 3), WindowEnd: day.AddDate(0, 0, 5),
		Seats: 4, IsAvailable: true,
	})
	// Already consumed.
	seedOffer(t, store, Offer{
		HelperID: "helper-4", Category: CategoryFlightCompanion,
		Origin: "AKL", Destination: "PVG",
		WindowStart: day.AddDate(0, 0, -2), WindowEnd: day.AddDate(0, 0, 2),
		Seats: 4, IsAvailable: false,
	})

	got, err := store.FindOffers(ctx, Filter{
		Category:      CategoryFlightCompanion,
		Origin:        "AKL",
		Destination:   "PVG",
		TravelDate:    day,
		MinSeats:      2,
		NeedsLuggage:  true,
		OnlyAvailable: true,
	})
	if err != nil {
		t.Fatalf("find offers: %v", err)
	}
	if len(got) != 1 || got[0].ID != match.ID {
		t.Fatalf("expected only the compatible offer, got %+v", got)
	}
}
