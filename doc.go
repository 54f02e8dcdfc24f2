// Package storefinder serves a store locator: it finds the retail store
// nearest to a user and fetches live inventory counts for the products the
// user has checked.
//
// # Quick Start
//
//	f, _ := storefinder.New(
//	    storefinder.WithStoresURL("https://example.com/stores"),
//	    storefinder.WithInventoryURL("https://lcboapi.com/stores/{{.StoreID}}/products/{{.ProductID}}/inventory"),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	f.Start(ctx) // blocks until context is cancelled
//
// # Sessions
//
// Each browser tab opens a session through the HTTP API. A session owns its
// own store list, selection and inventory cells, so there is no state shared
// between users. The page reports the geolocation result (or its failure),
// marker clicks and checkbox snapshots; the server answers with the selected
// store and pushes quantity updates over Server-Sent Events.
//
// # Nearest Store
//
// Distance uses an equirectangular approximation calibrated for southern
// Ontario (111 km per degree of latitude, 78.4 km per degree of longitude).
// Ties go to the store listed first. When the user cannot be located the
// search runs from Bay and Front in downtown Toronto.
//
// # Inventory
//
// A refresh issues one request per checked product whose cell shows no
// positive quantity, for the selected store only. Starting a refresh cancels
// the previous one and results from a superseded refresh are discarded.
// Failures are logged and otherwise ignored.
//
// # Architecture
//
//   - geo: Coordinates and distance
//   - internal/locator: Nearest store search and per-session selection
//   - internal/inventory: Inventory refresh cycles on a bounded worker pool
//   - internal/board: Quantity cells with pub/sub
//   - internal/fetch: Upstream HTTP clients
//   - internal/cache: SQLite snapshot of the store list
//   - internal/session: Session registry
//   - internal/server: chi router, JSON API and Server-Sent Events
//   - dashboard: Embedded web UI
package storefinder
