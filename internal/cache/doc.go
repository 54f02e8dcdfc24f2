// Package cache keeps a SQLite snapshot of the last store list fetched from
// upstream.
//
// This package is internal to storefinder. [CachedSource] wraps a
// [locator.StoreSource]: every successful fetch replaces the snapshot, and a
// failed fetch falls back to it. Store order is preserved because the nearest
// store search breaks ties by position.
package cache
