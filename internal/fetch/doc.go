// Package fetch talks to the remote store list and inventory APIs.
//
// This package is internal to storefinder. [Client] is a pooled HTTP client
// with per-request timeouts and a 1MB body limit. [StoreAPI] and
// [InventoryAPI] decode the two upstream payloads into the locator and
// inventory types. Both accept JSONP-wrapped bodies.
package fetch
