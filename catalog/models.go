package catalog

import "time"

// Category distinguishes the two service lines the platform brokers.
type Category string

const (
	CategoryFlightCompanion Category = "flight_companion"
	CategoryPickup          Category = "pickup"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	return c == CategoryFlightCompanion || c == CategoryPickup
}

// Request is a posted need for a travel-companion or pickup service.
//
// IsMatched is write-once-true: it only reverts through the explicit
// cancellation-of-match path owned by the match coordinator. Version backs
// the compare-and-swap writes; every successful update bumps it by one.
type Request struct {
	ID          string
	RequesterID string
	Category    Category
	// Origin and Destination hold IATA-style airport codes. Pickups use
	// Origin as the airport; Destination is the free-form drop-off area.
	Origin       string
	Destination  string
	TravelDate   time.Time
	Seats        int
	NeedsLuggage bool
	// Amount is the offered amount in the smallest currency unit.
	Amount         int64
	Currency       string
	IsActive       bool
	IsMatched      bool
	MatchedOfferID *string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Offer is a helper's posted willingness to fulfill requests.
//
// IsAvailable flips to false exactly once when a match consumes the offer,
// and back to true only through match cancellation.
type Offer struct {
	ID          string
	HelperID    string
	Category    Category
	Origin      string
	Destination string
	// WindowStart/WindowEnd bound the dates the helper can serve; a request
	// is compatible only when its travel date falls inside the window.
	WindowStart    time.Time
	WindowEnd      time.Time
	Seats          int
	HandlesLuggage bool
	// Price is the companion's requested amount or the pickup base rate.
	Price    int64
	Currency string
	// HelperRating and CompletedCount are denormalized from the helper's
	// profile at posting time and drive candidate ranking.
	HelperRating   float64
	CompletedCount int
	IsAvailable    bool
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Filter narrows FindOffers reads. Zero values mean "don't filter".
type Filter struct {
	Category      Category
	Origin        string
	Destination   string
	TravelDate    time.Time
	MinSeats      int
	NeedsLuggage  bool
	OnlyAvailable bool
	Limit         int
}
