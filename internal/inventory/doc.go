// Package inventory refreshes live stock counts for the products a user has
// checked.
//
// This package is internal to storefinder. Each call to [Refresher.Refresh]
// starts a new cycle: it snapshots the checked checkboxes, builds a
// product id to display map, and fetches the quantity of every eligible
// product from the selected store on a bounded worker pool. Starting a cycle
// cancels the previous one, and responses belonging to a superseded cycle are
// discarded rather than written.
package inventory
