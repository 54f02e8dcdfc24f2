package storefinder

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jpalmerr/storefinder/geo"
)

// finderConfig holds mutable state during Finder construction.
type finderConfig struct {
	title              string
	storesURL          string
	inventoryURL       string
	headers            map[string]string
	timeout            time.Duration
	port               int
	maxConcurrency     int
	logger             *slog.Logger
	defaultLocation    geo.Location
	cachePath          string
	sessionIdleTimeout time.Duration
	skipClosedStores   bool
	inventoryCallbacks []func(InventoryUpdate)
}

// Option is a function that configures a [Finder] during construction.
//
// Options return an error if validation fails.
type Option func(*finderConfig) error

// WithStoresURL sets the URL the store list is fetched from. Required.
//
// The endpoint must answer GET with a JSON array of stores, or an object
// holding that array under "result".
func WithStoresURL(url string) Option {
	return func(cfg *finderConfig) error {
		if strings.TrimSpace(url) == "" {
			return errors.New("stores URL cannot be empty")
		}
		cfg.storesURL = url
		return nil
	}
}

// WithInventoryURL sets the inventory URL template. Required.
//
// The template is rendered with {{.StoreID}} and {{.ProductID}}:
//
//	storefinder.WithInventoryURL("https://lcboapi.com/stores/{{.StoreID}}/products/{{.ProductID}}/inventory")
func WithInventoryURL(tmpl string) Option {
	return func(cfg *finderConfig) error {
		if strings.TrimSpace(tmpl) == "" {
			return errors.New("inventory URL cannot be empty")
		}
		cfg.inventoryURL = tmpl
		return nil
	}
}

// WithHeaders adds HTTP headers sent with every upstream request, as
// key-value pairs. Can be called multiple times; later values win.
//
// Example:
//
//	storefinder.WithHeaders("Authorization", "Token abc123")
//
// Returns an error if an odd number of arguments is given.
func WithHeaders(kv ...string) Option {
	return func(cfg *finderConfig) error {
		if len(kv)%2 != 0 {
			return errors.New("headers must be key-value pairs")
		}
		if cfg.headers == nil {
			cfg.headers = make(map[string]string, len(kv)/2)
		}
		for i := 0; i < len(kv); i += 2 {
			if kv[i] == "" {
				return errors.New("header name cannot be empty")
			}
			cfg.headers[kv[i]] = kv[i+1]
		}
		return nil
	}
}

// WithTimeout sets the timeout of each upstream request. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(cfg *finderConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithPort sets the HTTP port. Defaults to 8080.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *finderConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithMaxConcurrency sets how many inventory requests one refresh may have in
// flight. Defaults to 10.
func WithMaxConcurrency(n int) Option {
	return func(cfg *finderConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *finderConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithTitle sets the page title. Defaults to "Store Finder".
func WithTitle(title string) Option {
	return func(cfg *finderConfig) error {
		cfg.title = title
		return nil
	}
}

// WithDefaultLocation sets the location searched from when the user's
// position is unavailable. Defaults to [geo.DefaultLocation].
func WithDefaultLocation(loc geo.Location) Option {
	return func(cfg *finderConfig) error {
		if !loc.Valid() {
			return fmt.Errorf("invalid default location %s", loc)
		}
		cfg.defaultLocation = loc
		return nil
	}
}

// WithCachePath enables the SQLite store list snapshot at path. When
// upstream fails, the last snapshot is served instead.
func WithCachePath(path string) Option {
	return func(cfg *finderConfig) error {
		cfg.cachePath = path
		return nil
	}
}

// WithSessionIdleTimeout sets how long a UI session may go unused before it
// is discarded. Defaults to 30 minutes.
func WithSessionIdleTimeout(d time.Duration) Option {
	return func(cfg *finderConfig) error {
		if d <= 0 {
			return errors.New("session idle timeout must be positive")
		}
		cfg.sessionIdleTimeout = d
		return nil
	}
}

// WithSkipClosedStores excludes stores flagged dead from the nearest store
// search.
func WithSkipClosedStores(skip bool) Option {
	return func(cfg *finderConfig) error {
		cfg.skipClosedStores = skip
		return nil
	}
}

// WithInventoryCallback registers a function called for every inventory
// fetch outcome of every session, including failed and discarded ones.
//
// Callbacks run on inventory worker goroutines and must not block. Panics
// are recovered and logged. Nil callbacks are ignored.
func WithInventoryCallback(cb func(InventoryUpdate)) Option {
	return func(cfg *finderConfig) error {
		if cb == nil {
			return nil
		}
		cfg.inventoryCallbacks = append(cfg.inventoryCallbacks, cb)
		return nil
	}
}
