package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"travelmatch/apperr"
	"travelmatch/catalog"
)

var travelDay = time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC)

func seedRequest(t *testing.T, store *catalog.MemStore) catalog.Request {
	t.Helper()
	req, err := store.CreateRequest(context.Background(), catalog.Request{
		RequesterID: "user-1",
		Category:    catalog.CategoryFlightCompanion,
		Origin:      "AKL",
		Destination: "PVG",
		TravelDate:  travelDay,
		Seats:       2,
		Amount:      80,
		Currency:    "USD",
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return req
}

func seedOffer(t *testing.T, store *catalog.MemStore, mutate func(*catalog.Offer)) catalog.Offer {
	t.Helper()
	off := catalog.Offer{
		HelperID:     "helper-1",
		Category:     catalog.CategoryFlightCompanion,
		Origin:       "AKL",
		Destination:  "PVG",
		WindowStart:  travelDay.AddDate(0, 0, -3),
		WindowEnd:    travelDay.AddDate(0, 0, 3),
		Seats:        4,
		Price:        100,
		Currency:     "USD",
		HelperRating: 4.8,
		IsAvailable:  true,
	}
	if mutate != nil {
		mutate(&off)
	}
	created, err := store.CreateOffer(context.Background(), off)
	if err != nil {
		t.Fatalf("seed offer: %v", err)
	}
	return created
}

func TestFindCandidatesSingleMatch(t *testing.T) {
	store := catalog.NewMemStore()
	req := seedRequest(t, store)
	off := seedOffer(t, store, nil)

	got, err := NewEngine(store).FindCandidates(context.Background(), req.ID, 5)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != off.ID {
		t.Fatalf("expected [%s], got %+v", off.ID, got)
	}
}

func TestFindCandidatesExcludesConsumedOffer(t *testing.T) {
	store := catalog.NewMemStore()
	req := seedRequest(t, store)
	seedOffer(t, store, func(o *catalog.Offer) { o.IsAvailable = false })

	got, err := NewEngine(store).FindCandidates(context.Background(), req.ID, 5)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("consumed offer must be excluded, got %+v", got)
	}
}

func TestFindCandidatesHardFilters(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*catalog.Offer)
	}{
		{"wrong category", func(o *catalog.Offer) { o.Category = catalog.CategoryPickup }},
		{"wrong origin", func(o *catalog.Offer) { o.Origin = "WLG" }},
		{"wrong destination", func(o *catalog.Offer) { o.Destination = "SYD" }},
		{"window misses date", func(o *catalog.Offer) {
			o.WindowStart = travelDay.AddDate(0, 0, 1)
			o.WindowEnd = travelDay.AddDate(0, 0, 4)
		}},
		{"capacity too small", func(o *catalog.Offer) { o.Seats = 1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := catalog.NewMemStore()
			req := seedRequest(t, store)
			seedOffer(t, store, tc.mutate)

			got, err := NewEngine(store).FindCandidates(context.Background(), req.ID, 5)
			if err != nil {
				t.Fatalf("find candidates: %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("expected empty result, got %+v", got)
			}
		})
	}
}

func TestFindCandidatesLuggageFilter(t *testing.T) {
	store := catalog.NewMemStore()
	req, err := store.CreateRequest(context.Background(), catalog.Request{
		RequesterID: "user-1",
		Category:    catalog.CategoryFlightCompanion,
		Origin:      "AKL", Destination: "PVG",
		TravelDate: travelDay, Seats: 1,
		NeedsLuggage: true,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
	seedOffer(t, store, func(o *catalog.Offer) { o.HandlesLuggage = false })
	withLuggage := seedOffer(t, store, func(o *catalog.Offer) {
		o.HelperID = "helper-2"
		o.HandlesLuggage = true
	})

	got, err := NewEngine(store).FindCandidates(context.Background(), req.ID, 5)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != withLuggage.ID {
		t.Fatalf("expected only the luggage-capable offer, got %+v", got)
	}
}

func TestFindCandidatesRanking(t *testing.T) {
	store := catalog.NewMemStore()
	req := seedRequest(t, store)

	cheapLowRating := seedOffer(t, store, func(o *catalog.Offer) {
		o.HelperID = "cheap-low"
		o.HelperRating = 4.2
		o.Price = 60
	})
	expensiveTopRating := seedOffer(t, store, func(o *catalog.Offer) {
		o.HelperID = "pricey-top"
		o.HelperRating = 4.9
		o.Price = 180
	})
	cheapTopRatingVeteran := seedOffer(t, store, func(o *catalog.Offer) {
		o.HelperID = "cheap-top-veteran"
		o.HelperRating = 4.9
		o.Price = 120
		o.CompletedCount = 40
	})
	cheapTopRatingNovice := seedOffer(t, store, func(o *catalog.Offer) {
		o.HelperID = "cheap-top-novice"
		o.HelperRating = 4.9
		o.Price = 120
		o.CompletedCount = 3
	})

	got, err := NewEngine(store).FindCandidates(context.Background(), req.ID, 10)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}

	want := []string{cheapTopRatingVeteran.ID, cheapTopRatingNovice.ID, expensiveTopRating.ID, cheapLowRating.ID}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestFindCandidatesMaxResults(t *testing.T) {
	store := catalog.NewMemStore()
	req := seedRequest(t, store)
	for i := 0; i < 4; i++ {
		seedOffer(t, store, nil)
	}

	got, err := NewEngine(store).FindCandidates(context.Background(), req.ID, 2)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected cap at 2 results, got %d", len(got))
	}
}

func TestFindCandidatesErrors(t *testing.T) {
	store := catalog.NewMemStore()
	engine := NewEngine(store)

	if _, err := engine.FindCandidates(context.Background(), "nope", 5); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}

	req := seedRequest(t, store)
	_, err := engine.FindCandidates(context.Background(), req.ID, 0)
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error for maxResults=0, got %v", err)
	}
}

func TestFindCandidatesMatchedRequestReturnsEmpty(t *testing.T) {
	store := catalog.NewMemStore()
	req := seedRequest(t, store)
	seedOffer(t, store, nil)

	offID := "some-offer"
	req.IsMatched = true
	req.MatchedOfferID = &offID
	if _, err := store.UpdateRequest(context.Background(), req, req.Version); err != nil {
		t.Fatalf("mark matched: %v", err)
	}

	got, err := NewEngine(store).FindCandidates(context.Background(), req.ID, 5)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("matched request should yield no candidates, got %+v", got)
	}
}
