package session

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jpalmerr/storefinder/geo"
	"github.com/jpalmerr/storefinder/internal/board"
	"github.com/jpalmerr/storefinder/internal/inventory"
	"github.com/jpalmerr/storefinder/internal/locator"
)

// CheckboxState is a product checkbox as reported by the client.
type CheckboxState struct {
	Value   string `json:"value"`
	Checked bool   `json:"checked"`
}

// Session is the server-side state of one UI session.
type Session struct {
	id        string
	createdAt time.Time
	lastSeen  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	locator   *locator.Locator
	refresher *inventory.Refresher
	board     board.Board
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastSeen returns when the session was last looked up.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Locator returns the session's locator.
func (s *Session) Locator() *locator.Locator { return s.locator }

// Board returns the session's quantity cells.
func (s *Session) Board() board.Board { return s.board }

// Done is closed once the session has been removed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Locate forwards a geolocation result to the locator.
func (s *Session) Locate(ctx context.Context, loc geo.Location) (locator.Selection, error) {
	return s.locator.Locate(ctx, loc)
}

// LocateFailed reports a failed geolocation to the locator.
func (s *Session) LocateFailed(ctx context.Context, reason string) (locator.Selection, error) {
	return s.locator.LocateFailed(ctx, reason)
}

// Click forwards a marker click to the locator.
func (s *Session) Click(ctx context.Context, loc geo.Location) (locator.Selection, error) {
	return s.locator.Click(ctx, loc)
}

// RefreshInventory starts an inventory cycle for the selected store.
//
// Each checkbox is paired with the board cell named after its product id.
// A cell holding a quantity for a different store counts as empty, so a new
// selection fetches again.
// The cycle runs on the session's context, not the caller's, so it outlives
// the request that started it.
func (s *Session) RefreshInventory(boxes []CheckboxState) *inventory.Cycle {
	storeID := s.locator.SelectedStoreID()

	snapshot := make([]inventory.Checkbox, 0, len(boxes))
	for _, b := range boxes {
		name := strconv.Itoa(inventory.ParseInt(b.Value))
		snapshot = append(snapshot, inventory.Checkbox{
			Value:   b.Value,
			Checked: b.Checked,
			Display: s.board.Display(name, storeID),
		})
	}

	return s.refresher.Refresh(s.ctx, storeID, snapshot)
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) close() {
	s.cancel()
	s.refresher.Close()
	s.board.Close()
}
