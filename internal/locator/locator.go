package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/storefinder/geo"
)

// NoSelection is returned by the selection accessors when no store is selected.
const NoSelection = -1

// markerZoomThreshold is the zoom level above which individual store markers
// are shown.
const markerZoomThreshold = 10

const (
	selectedMessage = "Selected store:"
	degradedMessage = "Downtown Toronto store (user location unavailable)"
)

// ErrNoStores is returned when an operation needs the store list and none
// could be loaded.
var ErrNoStores = errors.New("no stores available")

// DistanceEstimator looks up the travel distance between two coordinates and
// returns it as display text (e.g. "4.2 km").
type DistanceEstimator interface {
	Estimate(ctx context.Context, from, to geo.Location) (string, error)
}

// StraightLineEstimator estimates distance with [geo.Distance].
type StraightLineEstimator struct{}

// Estimate returns the equirectangular distance between from and to.
func (StraightLineEstimator) Estimate(_ context.Context, from, to geo.Location) (string, error) {
	return geo.FormatKm(geo.Distance(from, to)), nil
}

// Selection is a snapshot of the store currently selected for a session.
type Selection struct {
	// Store is the selected store, nil when nothing is selected.
	Store *Store `json:"store"`

	// UserLocation is the origin used for the search and distance.
	UserLocation geo.Location `json:"user_location"`

	// Distance is the estimated travel distance from UserLocation to Store.
	Distance string `json:"distance,omitempty"`

	// Message is the heading shown above the store details.
	Message string `json:"message"`

	// Fallback is true when UserLocation is the default location, either
	// because the user's position was unavailable or because no store could
	// be selected.
	Fallback bool `json:"fallback"`

	// SelectedAt is when the selection was last overwritten.
	SelectedAt time.Time `json:"selected_at"`
}

// MarkerKind identifies what a map marker represents.
type MarkerKind string

const (
	MarkerUser    MarkerKind = "user"
	MarkerClosest MarkerKind = "closest"
	MarkerStore   MarkerKind = "store"
)

// Marker is a map marker to be rendered by the client.
type Marker struct {
	Kind     MarkerKind   `json:"kind"`
	Title    string       `json:"title"`
	Location geo.Location `json:"location"`
	StoreID  int          `json:"store_id,omitempty"`
}

// Config holds the dependencies of a [Locator].
type Config struct {
	// Source provides the store list. Required.
	Source StoreSource

	// Estimator computes the distance text. Defaults to [StraightLineEstimator].
	Estimator DistanceEstimator

	// DefaultLocation is used when geolocation fails. Defaults to
	// [geo.DefaultLocation].
	DefaultLocation *geo.Location

	// SkipClosedStores removes stores flagged dead from the search.
	SkipClosedStores bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Locator holds the store-finding state of one UI session.
//
// The store list is fetched at most once successfully per Locator. The
// selection is overwritten by every successful locate or click; there is at
// most one selected store at a time. All methods are safe for concurrent use.
type Locator struct {
	source          StoreSource
	estimator       DistanceEstimator
	defaultLocation geo.Location
	skipClosed      bool
	logger          *slog.Logger

	// fetchMu serialises store list fetches so concurrent locates share one.
	fetchMu sync.Mutex

	mu           sync.RWMutex
	stores       []Store
	fetched      bool
	userLocation *geo.Location
	selection    Selection
}

// New creates a [Locator]. It panics if cfg.Source is nil.
func New(cfg Config) *Locator {
	if cfg.Source == nil {
		panic("locator: nil StoreSource")
	}

	l := &Locator{
		source:          cfg.Source,
		estimator:       cfg.Estimator,
		defaultLocation: geo.DefaultLocation,
		skipClosed:      cfg.SkipClosedStores,
		logger:          cfg.Logger,
	}
	if l.estimator == nil {
		l.estimator = StraightLineEstimator{}
	}
	if cfg.DefaultLocation != nil {
		l.defaultLocation = *cfg.DefaultLocation
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Locate handles a successful geolocation result.
//
// It records loc as the user location, loads the store list if needed and
// selects the nearest store. A store list failure is returned and leaves the
// previous selection in place.
func (l *Locator) Locate(ctx context.Context, loc geo.Location) (Selection, error) {
	return l.locate(ctx, loc, false)
}

// LocateFailed handles a denied, unavailable or unsupported geolocation
// request by searching from the default location instead.
func (l *Locator) LocateFailed(ctx context.Context, reason string) (Selection, error) {
	l.logger.Info("geolocation unavailable, using default location",
		"reason", reason,
		"location", l.defaultLocation.String(),
	)
	return l.locate(ctx, l.defaultLocation, true)
}

func (l *Locator) locate(ctx context.Context, user geo.Location, fallback bool) (Selection, error) {
	l.mu.Lock()
	l.userLocation = &user
	l.mu.Unlock()

	stores, err := l.ensureStores(ctx)
	if err != nil {
		return l.Selection(), err
	}

	return l.selectNearest(ctx, stores, user, user, fallback), nil
}

// Click handles a click on a store marker at loc. The store nearest to loc
// becomes the selection and the distance is measured from the last known
// user location.
func (l *Locator) Click(ctx context.Context, loc geo.Location) (Selection, error) {
	stores, err := l.ensureStores(ctx)
	if err != nil {
		return l.Selection(), err
	}

	l.mu.RLock()
	user := l.defaultLocation
	fallback := true
	if l.userLocation != nil {
		user = *l.userLocation
		fallback = l.selection.Fallback
	}
	l.mu.RUnlock()

	return l.selectNearest(ctx, stores, loc, user, fallback), nil
}

// ensureStores returns the store list, fetching it on first use.
func (l *Locator) ensureStores(ctx context.Context) ([]Store, error) {
	l.fetchMu.Lock()
	defer l.fetchMu.Unlock()

	l.mu.RLock()
	if l.fetched {
		stores := l.stores
		l.mu.RUnlock()
		return stores, nil
	}
	l.mu.RUnlock()

	start := time.Now()
	stores, err := l.source.FetchStores(ctx)
	if err != nil {
		l.logger.Error("store list fetch failed", "error", err.Error())
		return nil, fmt.Errorf("fetching store list: %w", err)
	}

	l.mu.Lock()
	l.stores = stores
	l.fetched = true
	l.mu.Unlock()

	l.logger.Info("store list loaded",
		"store_count", len(stores),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return stores, nil
}

// selectNearest overwrites the selection with the store nearest to target.
func (l *Locator) selectNearest(ctx context.Context, stores []Store, target, user geo.Location, fallback bool) Selection {
	candidates := stores
	if l.skipClosed {
		candidates = liveStores(stores)
	}

	sel := Selection{
		UserLocation: user,
		Fallback:     fallback,
		SelectedAt:   time.Now(),
	}

	store, ok := Nearest(candidates, target)
	if !ok {
		sel.UserLocation = l.defaultLocation
		sel.Fallback = true
		sel.Message = degradedMessage
		l.logger.Warn("no store to select", "error", ErrNoStores.Error())
	} else {
		sel.Store = &store
		sel.Message = selectedMessage

		distance, err := l.estimator.Estimate(ctx, user, store.Location())
		if err != nil {
			l.logger.Warn("distance lookup failed", "store_id", store.ID, "error", err.Error())
		} else {
			sel.Distance = distance
		}
	}

	l.mu.Lock()
	l.selection = sel
	l.mu.Unlock()

	if sel.Store != nil {
		l.logger.Debug("store selected",
			"store_id", sel.Store.ID,
			"name", sel.Store.Name,
			"distance", sel.Distance,
		)
	}
	return cloneSelection(sel)
}

// SelectedStoreID returns the internal id of the selected store, or
// [NoSelection] if none is selected.
func (l *Locator) SelectedStoreID() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.selection.Store == nil {
		return NoSelection
	}
	return l.selection.Store.ID
}

// SelectedPartnerID returns the partner (LCBO) id of the selected store, or
// [NoSelection] if none is selected.
func (l *Locator) SelectedPartnerID() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.selection.Store == nil {
		return NoSelection
	}
	return l.selection.Store.PartnerID
}

// Selection returns a copy of the current selection.
func (l *Locator) Selection() Selection {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSelection(l.selection)
}

// Stores returns a copy of the loaded store list (nil before the first fetch).
func (l *Locator) Stores() []Store {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stores == nil {
		return nil
	}
	cp := make([]Store, len(l.stores))
	copy(cp, l.stores)
	return cp
}

// Markers returns the markers to draw at the given zoom level. Store markers
// are only included when zoom is above 10.
func (l *Locator) Markers(zoom int) []Marker {
	l.mu.RLock()
	defer l.mu.RUnlock()

	markers := make([]Marker, 0, len(l.stores)+2)
	if l.userLocation != nil {
		markers = append(markers, Marker{
			Kind:     MarkerUser,
			Title:    "Current Location",
			Location: *l.userLocation,
		})
	}
	if s := l.selection.Store; s != nil {
		markers = append(markers, Marker{
			Kind:     MarkerClosest,
			Title:    "Closest store",
			Location: s.Location(),
			StoreID:  s.ID,
		})
	}
	if zoom > markerZoomThreshold {
		for _, s := range l.stores {
			markers = append(markers, Marker{
				Kind:     MarkerStore,
				Title:    s.Name,
				Location: s.Location(),
				StoreID:  s.ID,
			})
		}
	}
	return markers
}

func cloneSelection(s Selection) Selection {
	if s.Store != nil {
		st := *s.Store
		s.Store = &st
	}
	return s
}
