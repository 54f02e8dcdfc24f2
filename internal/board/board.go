package board

import "time"

// Cell is the current content of one quantity display.
type Cell struct {
	// Name identifies the cell, the product id as shown in the UI.
	Name string `json:"name"`

	// Text is the displayed text, a quantity once inventory has been fetched.
	Text string `json:"text"`

	// StoreID is the store the quantity was fetched for, 0 if unknown.
	StoreID int `json:"store_id"`

	// UpdatedAt is when the cell was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Board stores cells and publishes changes to subscribers.
//
// Implementations must be safe for concurrent access.
type Board interface {
	// Update stores a cell keyed by Name and notifies all subscribers.
	Update(cell Cell)

	// Get returns the cell with the given name.
	Get(name string) (Cell, bool)

	// GetAll returns a snapshot of all cells sorted by name.
	GetAll() []Cell

	// Reset removes every cell.
	Reset()

	// Subscribe returns a channel that receives cell updates.
	// Caller must call Unsubscribe when done.
	Subscribe() <-chan Cell

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Cell)

	// Subscribers returns the number of open subscriptions.
	Subscribers() int

	// Close ends every subscription. Later subscriptions are closed on
	// arrival.
	Close()

	// Display returns the cell called name as a quantity display bound to
	// storeID.
	Display(name string, storeID int) *Handle
}

var _ Board = (*MemoryBoard)(nil)
