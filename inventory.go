package storefinder

import "time"

// InventoryUpdate is the outcome of one inventory fetch made for a UI
// session.
type InventoryUpdate struct {
	// SessionID identifies the UI session that requested the refresh.
	SessionID string

	// Generation is the refresh cycle of that session, starting at 1.
	Generation uint64

	StoreID   int
	ProductID int
	Quantity  int

	// Applied is true when the quantity was written to the product's cell.
	Applied bool

	// Stale is true when a newer refresh of the same session had started, in
	// which case the result was discarded.
	Stale bool

	// Latency is the time taken by the upstream request.
	Latency time.Duration

	// Error is non-nil when the fetch failed.
	Error error
}

// Store is a retail location as returned by the store list endpoint.
type Store struct {
	ID           int
	PartnerID    int
	Name         string
	AddressLine1 string
	City         string
	Latitude     float64
	Longitude    float64
	IsDead       bool
}

// Match is the result of a nearest store search.
type Match struct {
	Store Store

	// DistanceKm is the straight-line distance in kilometres.
	DistanceKm float64

	// Distance is DistanceKm formatted for display.
	Distance string
}

// Stock is a live inventory count.
type Stock struct {
	StoreID   int
	ProductID int
	Quantity  int
}
