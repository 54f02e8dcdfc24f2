package board

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// subscriberBuffer is the channel capacity given to each subscriber.
const subscriberBuffer = 100

// MemoryBoard is an in-memory implementation of [Board].
//
// Cells are keyed by name, with new values replacing previous ones.
// Subscribers receive updates via buffered channels; if a subscriber's buffer
// is full the update is dropped for that subscriber.
type MemoryBoard struct {
	mu    sync.RWMutex
	cells map[string]Cell

	subMu       sync.RWMutex
	subscribers map[chan Cell]struct{}
	closed      bool
}

// NewMemoryBoard creates an empty [MemoryBoard].
func NewMemoryBoard() *MemoryBoard {
	return &MemoryBoard{
		cells:       make(map[string]Cell),
		subscribers: make(map[chan Cell]struct{}),
	}
}

// Update stores cell and notifies all subscribers. A zero UpdatedAt is set to
// the current time.
func (b *MemoryBoard) Update(cell Cell) {
	if cell.UpdatedAt.IsZero() {
		cell.UpdatedAt = time.Now()
	}

	b.mu.Lock()
	b.cells[cell.Name] = cell
	b.mu.Unlock()

	b.notifySubscribers(cell)
}

// Get returns the cell with the given name.
func (b *MemoryBoard) Get(name string) (Cell, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cell, ok := b.cells[name]
	return cell, ok
}

// GetAll returns a copy of all cells sorted by name.
func (b *MemoryBoard) GetAll() []Cell {
	b.mu.RLock()
	cells := make([]Cell, 0, len(b.cells))
	for _, cell := range b.cells {
		cells = append(cells, cell)
	}
	b.mu.RUnlock()

	sort.Slice(cells, func(i, j int) bool {
		return cells[i].Name < cells[j].Name
	})
	return cells
}

// Reset removes every cell. Subscribers are not notified.
func (b *MemoryBoard) Reset() {
	b.mu.Lock()
	b.cells = make(map[string]Cell)
	b.mu.Unlock()
}

// Subscribe creates a subscription with a buffer of 100 updates.
//
// On a closed board the returned channel is already closed.
func (b *MemoryBoard) Subscribe() <-chan Cell {
	ch := make(chan Cell, subscriberBuffer)

	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *MemoryBoard) Unsubscribe(ch <-chan Cell) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	for subCh := range b.subscribers {
		if subCh == ch {
			delete(b.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (b *MemoryBoard) Subscribers() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel, ending their streams. Later
// subscriptions receive a closed channel. Updates are still stored.
func (b *MemoryBoard) Close() {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Display returns a handle to the cell called name. Quantities shown through
// the handle are recorded against storeID.
func (b *MemoryBoard) Display(name string, storeID int) *Handle {
	return &Handle{board: b, name: name, storeID: storeID}
}

func (b *MemoryBoard) notifySubscribers(cell Cell) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- cell:
		default:
			// slow subscriber, drop
		}
	}
}

// Handle is a single cell of a [Board] seen as a quantity display for one
// store.
type Handle struct {
	board   Board
	name    string
	storeID int
}

// Name returns the cell name.
func (h *Handle) Name() string {
	return h.name
}

// Text returns the cell's current text. It is empty if the cell was never
// written or holds a quantity fetched for another store.
func (h *Handle) Text() string {
	cell, ok := h.board.Get(h.name)
	if !ok || cell.StoreID != h.storeID {
		return ""
	}
	return cell.Text
}

// Show writes quantity into the cell.
func (h *Handle) Show(quantity int) {
	h.board.Update(Cell{
		Name:    h.name,
		Text:    strconv.Itoa(quantity),
		StoreID: h.storeID,
	})
}
