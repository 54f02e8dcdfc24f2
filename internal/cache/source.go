package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jpalmerr/storefinder/internal/locator"
)

// CachedSource serves the upstream store list and falls back to the last
// saved snapshot when upstream fails.
type CachedSource struct {
	upstream locator.StoreSource
	db       *DB
	logger   *slog.Logger
}

// NewCachedSource wraps upstream with the snapshot in db.
func NewCachedSource(upstream locator.StoreSource, db *DB, logger *slog.Logger) *CachedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{upstream: upstream, db: db, logger: logger}
}

// FetchStores fetches from upstream and saves the result. If upstream fails
// the snapshot is returned instead; if there is no snapshot either, the
// upstream error is returned.
func (c *CachedSource) FetchStores(ctx context.Context) ([]locator.Store, error) {
	stores, err := c.upstream.FetchStores(ctx)
	if err == nil {
		if saveErr := c.db.SaveStores(ctx, stores); saveErr != nil {
			c.logger.Warn("saving store snapshot failed", "error", saveErr.Error())
		}
		return stores, nil
	}

	cached, savedAt, loadErr := c.db.LoadStores(ctx)
	if loadErr != nil {
		if !errors.Is(loadErr, ErrNoSnapshot) {
			c.logger.Warn("loading store snapshot failed", "error", loadErr.Error())
		}
		return nil, err
	}

	c.logger.Warn("store list fetch failed, serving snapshot",
		"error", err.Error(),
		"store_count", len(cached),
		"snapshot_age", time.Since(savedAt).Round(time.Second).String(),
	)
	return cached, nil
}
