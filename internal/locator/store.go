package locator

import (
	"context"
	"math"

	"github.com/jpalmerr/storefinder/geo"
)

// Store is a physical retail location.
//
// Store values are immutable once fetched. ID is the identifier used by the
// store list backend; PartnerID is the identifier used by the partner (LCBO)
// inventory API.
type Store struct {
	ID           int     `json:"id"`
	PartnerID    int     `json:"lcbo_id"`
	Name         string  `json:"name"`
	AddressLine1 string  `json:"address_line_1"`
	City         string  `json:"city"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	IsDead       bool    `json:"is_dead"`
}

// Location returns the store's coordinate.
func (s Store) Location() geo.Location {
	return geo.Location{Latitude: s.Latitude, Longitude: s.Longitude}
}

// StoreSource provides the ordered store list.
//
// Implementations must preserve the backend's ordering; [Nearest] breaks
// ties by input order.
type StoreSource interface {
	FetchStores(ctx context.Context) ([]Store, error)
}

// StoreSourceFunc adapts a function to [StoreSource].
type StoreSourceFunc func(ctx context.Context) ([]Store, error)

// FetchStores calls f(ctx).
func (f StoreSourceFunc) FetchStores(ctx context.Context) ([]Store, error) {
	return f(ctx)
}

// Nearest returns the store closest to target, or false if stores is empty.
//
// The scan is linear and keeps the first store seen at the minimum distance,
// so equidistant candidates resolve to the one earliest in the slice.
func Nearest(stores []Store, target geo.Location) (Store, bool) {
	best := math.Inf(1)
	var closest Store
	found := false

	for _, s := range stores {
		d := geo.Distance(target, s.Location())
		if d < best {
			best = d
			closest = s
			found = true
		}
	}

	return closest, found
}

// liveStores returns the stores not flagged as dead, preserving order.
func liveStores(stores []Store) []Store {
	live := make([]Store, 0, len(stores))
	for _, s := range stores {
		if !s.IsDead {
			live = append(live, s)
		}
	}
	return live
}
