// Package board holds the quantity cells shown next to product checkboxes.
//
// This package is internal to storefinder. A [MemoryBoard] stores one [Cell]
// per product and fans every update out to subscribers, which the HTTP layer
// turns into a Server-Sent Events stream. [MemoryBoard.Display] returns a
// [Handle] that the inventory refresher writes quantities through.
//
// Subscribers receive updates via channels with non-blocking sends; slow
// subscribers miss updates rather than block the refresher.
package board
