package config

import (
	"sort"

	"github.com/jpalmerr/storefinder"
)

// BuildOptions converts parsed configuration into SDK options.
//
// The logger and callbacks are not part of the file format; callers append
// their own options to the result.
func BuildOptions(cfg *Config) []storefinder.Option {
	opts := []storefinder.Option{
		storefinder.WithStoresURL(cfg.StoresURL),
		storefinder.WithInventoryURL(cfg.InventoryURL),
		storefinder.WithPort(cfg.Port),
		storefinder.WithTimeout(cfg.Timeout.Duration()),
		storefinder.WithMaxConcurrency(cfg.MaxConcurrency),
		storefinder.WithSessionIdleTimeout(cfg.SessionIdleTimeout.Duration()),
		storefinder.WithSkipClosedStores(cfg.SkipClosedStores),
	}

	if cfg.Title != "" {
		opts = append(opts, storefinder.WithTitle(cfg.Title))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, storefinder.WithHeaders(mapToKeyValuePairs(cfg.Headers)...))
	}
	if cfg.DefaultLocation != nil {
		opts = append(opts, storefinder.WithDefaultLocation(cfg.DefaultLocation.Location()))
	}
	if cfg.CachePath != "" {
		opts = append(opts, storefinder.WithCachePath(cfg.CachePath))
	}

	return opts
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
