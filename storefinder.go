package storefinder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/storefinder/dashboard"
	"github.com/jpalmerr/storefinder/geo"
	"github.com/jpalmerr/storefinder/internal/cache"
	"github.com/jpalmerr/storefinder/internal/fetch"
	"github.com/jpalmerr/storefinder/internal/inventory"
	"github.com/jpalmerr/storefinder/internal/locator"
	"github.com/jpalmerr/storefinder/internal/server"
	"github.com/jpalmerr/storefinder/internal/session"
)

const (
	defaultPort               = 8080
	defaultMaxConcurrency     = 10
	defaultTimeout            = 10 * time.Second
	defaultSessionIdleTimeout = 30 * time.Minute
)

// Finder serves the store finder UI and its session API.
//
// Finder is created using [New] with functional options and started with
// [Finder.Start]:
//
//	f, err := storefinder.New(
//	    storefinder.WithStoresURL("https://example.com/stores"),
//	    storefinder.WithInventoryURL("https://lcboapi.com/stores/{{.StoreID}}/products/{{.ProductID}}/inventory"),
//	)
//	if err != nil {
//	    slog.Error("failed to create finder", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	f.Start(ctx) // blocks until context cancelled
type Finder struct {
	title              string
	storesURL          string
	port               int
	maxConcurrency     int
	defaultLocation    geo.Location
	cachePath          string
	sessionIdleTimeout time.Duration
	skipClosedStores   bool
	logger             *slog.Logger
	callbacks          []func(InventoryUpdate)

	client    *fetch.Client
	stores    *fetch.StoreAPI
	inventory *fetch.InventoryAPI
}

// New creates a [Finder] with the given options.
//
// [WithStoresURL] and [WithInventoryURL] are required. Other options default
// to port 8080, a 10s upstream timeout, 10 concurrent inventory requests per
// refresh, a 30 minute session idle timeout and the Bay and Front default
// location.
func New(opts ...Option) (*Finder, error) {
	cfg := &finderConfig{
		port:               defaultPort,
		maxConcurrency:     defaultMaxConcurrency,
		timeout:            defaultTimeout,
		defaultLocation:    geo.DefaultLocation,
		sessionIdleTimeout: defaultSessionIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.storesURL == "" {
		return nil, errors.New("stores URL is required")
	}
	if cfg.inventoryURL == "" {
		return nil, errors.New("inventory URL is required")
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	client := fetch.NewClient(cfg.headers, cfg.timeout)
	inv, err := fetch.NewInventoryAPI(client, cfg.inventoryURL)
	if err != nil {
		return nil, err
	}

	return &Finder{
		title:              cfg.title,
		storesURL:          cfg.storesURL,
		port:               cfg.port,
		maxConcurrency:     cfg.maxConcurrency,
		defaultLocation:    cfg.defaultLocation,
		cachePath:          cfg.cachePath,
		sessionIdleTimeout: cfg.sessionIdleTimeout,
		skipClosedStores:   cfg.skipClosedStores,
		logger:             logger,
		callbacks:          cfg.inventoryCallbacks,
		client:             client,
		stores:             fetch.NewStoreAPI(client, cfg.storesURL, logger),
		inventory:          inv,
	}, nil
}

// Start serves the UI and session API until ctx is cancelled.
//
// Idle sessions are swept in the background. Returns nil on graceful
// shutdown, or an error if the cache cannot be opened or the HTTP server
// fails to start.
func (f *Finder) Start(ctx context.Context) error {
	f.logger.Info("storefinder starting",
		"stores_url", f.storesURL,
		"cache", f.cachePath != "",
		"max_concurrency", f.maxConcurrency,
	)
	f.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", f.port))

	if ctx.Err() != nil {
		return nil
	}

	source, closeSource, err := f.openSource()
	if err != nil {
		return err
	}
	defer closeSource()
	defer f.client.Close()

	reg := session.NewRegistry(ctx, session.Config{
		Locator: locator.Config{
			Source:           source,
			DefaultLocation:  &f.defaultLocation,
			SkipClosedStores: f.skipClosedStores,
		},
		Fetcher:        f.inventory,
		MaxConcurrency: f.maxConcurrency,
		IdleTimeout:    f.sessionIdleTimeout,
		OnResult:       f.dispatch,
		Logger:         f.logger,
	})
	defer reg.Close()

	httpServer := server.NewServer(reg, f.port, dashboard.Assets, f.title, f.logger)
	if err := httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.Run(ctx, sweepInterval(f.sessionIdleTimeout))
	}()

	<-ctx.Done()
	wg.Wait()
	// handlers may still be using the registry and the cache
	<-httpServer.Done()
	f.logger.Info("storefinder stopped")
	return nil
}

// FetchStores fetches the store list, falling back to the cache snapshot
// when one is configured.
func (f *Finder) FetchStores(ctx context.Context) ([]Store, error) {
	stores, err := f.fetchStores(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Store, len(stores))
	for i, s := range stores {
		out[i] = toPublicStore(s)
	}
	return out, nil
}

// Nearest returns the store closest to loc, honouring
// [WithSkipClosedStores]. The boolean is false if there are no stores.
func (f *Finder) Nearest(ctx context.Context, loc geo.Location) (Match, bool, error) {
	stores, err := f.fetchStores(ctx)
	if err != nil {
		return Match{}, false, err
	}

	candidates := stores
	if f.skipClosedStores {
		candidates = make([]locator.Store, 0, len(stores))
		for _, s := range stores {
			if !s.IsDead {
				candidates = append(candidates, s)
			}
		}
	}

	store, ok := locator.Nearest(candidates, loc)
	if !ok {
		return Match{}, false, nil
	}

	km := geo.Distance(loc, store.Location())
	return Match{
		Store:      toPublicStore(store),
		DistanceKm: km,
		Distance:   geo.FormatKm(km),
	}, true, nil
}

func (f *Finder) fetchStores(ctx context.Context) ([]locator.Store, error) {
	source, closeSource, err := f.openSource()
	if err != nil {
		return nil, err
	}
	defer closeSource()

	stores, err := source.FetchStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching store list: %w", err)
	}
	return stores, nil
}

// Stock looks up the live quantity of productID at storeID.
func (f *Finder) Stock(ctx context.Context, storeID, productID int) (Stock, error) {
	if storeID <= 0 || productID <= 0 {
		return Stock{}, fmt.Errorf("store and product ids must be positive, got %d and %d", storeID, productID)
	}

	level, err := f.inventory.FetchInventory(ctx, storeID, productID)
	if err != nil {
		return Stock{}, fmt.Errorf("fetching inventory: %w", err)
	}
	return Stock{StoreID: level.StoreID, ProductID: level.ProductID, Quantity: level.Quantity}, nil
}

// Port returns the configured HTTP port.
func (f *Finder) Port() int {
	return f.port
}

// MaxConcurrency returns the per-refresh inventory request limit.
func (f *Finder) MaxConcurrency() int {
	return f.maxConcurrency
}

// DefaultLocation returns the location used when geolocation fails.
func (f *Finder) DefaultLocation() geo.Location {
	return f.defaultLocation
}

// SessionIdleTimeout returns how long idle sessions are kept.
func (f *Finder) SessionIdleTimeout() time.Duration {
	return f.sessionIdleTimeout
}

// openSource returns the store source, wrapped with the cache when one is
// configured, and a function releasing it.
func (f *Finder) openSource() (locator.StoreSource, func(), error) {
	if f.cachePath == "" {
		return f.stores, func() {}, nil
	}

	db, err := cache.Open(f.cachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store cache: %w", err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			f.logger.Warn("closing store cache failed", "error", err.Error())
		}
	}
	return cache.NewCachedSource(f.stores, db, f.logger), closeDB, nil
}

// dispatch converts a session's inventory result and hands it to every
// registered callback.
func (f *Finder) dispatch(sessionID string, res inventory.Result) {
	if len(f.callbacks) == 0 {
		return
	}

	update := InventoryUpdate{
		SessionID:  sessionID,
		Generation: res.Generation,
		StoreID:    res.StoreID,
		ProductID:  res.ProductID,
		Quantity:   res.Quantity,
		Applied:    res.Applied,
		Stale:      res.Stale,
		Latency:    res.Latency,
		Error:      res.Error,
	}
	for _, cb := range f.callbacks {
		invokeCallbackSafe(cb, update, f.logger)
	}
}

// invokeCallbackSafe calls an inventory callback with panic recovery.
func invokeCallbackSafe(cb func(InventoryUpdate), update InventoryUpdate, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("inventory callback panicked",
				"panic", r,
				"session_id", update.SessionID,
				"product_id", update.ProductID,
			)
		}
	}()
	cb(update)
}

// sweepInterval is a quarter of the idle timeout, kept between one second
// and one minute.
func sweepInterval(idle time.Duration) time.Duration {
	return min(max(idle/4, time.Second), time.Minute)
}

func toPublicStore(s locator.Store) Store {
	return Store{
		ID:           s.ID,
		PartnerID:    s.PartnerID,
		Name:         s.Name,
		AddressLine1: s.AddressLine1,
		City:         s.City,
		Latitude:     s.Latitude,
		Longitude:    s.Longitude,
		IsDead:       s.IsDead,
	}
}
