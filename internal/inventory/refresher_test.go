package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDisplay is an in-memory quantity cell.
type fakeDisplay struct {
	mu    sync.Mutex
	text  string
	shown int
}

func newDisplay(text string) *fakeDisplay {
	return &fakeDisplay{text: text}
}

func (d *fakeDisplay) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *fakeDisplay) Show(quantity int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = strconv.Itoa(quantity)
	d.shown++
}

func (d *fakeDisplay) Shown() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shown
}

// recordingFetcher returns quantity productID/4+1 unless overridden and
// records every call.
type recordingFetcher struct {
	mu    sync.Mutex
	calls []Request
	fn    func(ctx context.Context, storeID, productID int) (Level, error)
}

func (f *recordingFetcher) FetchInventory(ctx context.Context, storeID, productID int) (Level, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Request{StoreID: storeID, ProductID: productID})
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(ctx, storeID, productID)
	}
	return Level{StoreID: storeID, ProductID: productID, Quantity: productID/4 + 1}, nil
}

func (f *recordingFetcher) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.calls...)
}

// resultLog collects callback results.
type resultLog struct {
	mu      sync.Mutex
	results []Result
}

func (l *resultLog) add(r Result) {
	l.mu.Lock()
	l.results = append(l.results, r)
	l.mu.Unlock()
}

func (l *resultLog) All() []Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Result(nil), l.results...)
}

func waitCycle(t *testing.T, c *Cycle) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not finish")
	}
}

func TestRefresh_IssuesOneRequestPerEligibleCheckbox(t *testing.T) {
	f := &recordingFetcher{fn: func(_ context.Context, storeID, productID int) (Level, error) {
		return Level{StoreID: storeID, ProductID: productID, Quantity: 10}, nil
	}}
	r := NewRefresher(f, WithLogger(testLogger()))
	display := newDisplay("")

	cycle := r.Refresh(context.Background(), 7, []Checkbox{
		{Value: "42", Checked: true, Display: display},
	})
	waitCycle(t, cycle)

	assert.Equal(t, 1, cycle.Requested())
	assert.Equal(t, []Request{{StoreID: 7, ProductID: 42}}, cycle.Requests())
	assert.Equal(t, []Request{{StoreID: 7, ProductID: 42}}, f.Calls())
	assert.Equal(t, "10", display.Text())
}

func TestRefresh_InvalidProductIDsIssueNothing(t *testing.T) {
	for _, value := range []string{"0", "-3", "abc", "", "  ", "-"} {
		t.Run(strconv.Quote(value), func(t *testing.T) {
			f := &recordingFetcher{}
			r := NewRefresher(f, WithLogger(testLogger()))

			cycle := r.Refresh(context.Background(), 7, []Checkbox{
				{Value: value, Checked: true, Display: newDisplay("")},
			})
			waitCycle(t, cycle)

			assert.Zero(t, cycle.Requested())
			assert.Empty(t, f.Calls())
		})
	}
}

func TestRefresh_NothingChecked(t *testing.T) {
	f := &recordingFetcher{}
	r := NewRefresher(f, WithLogger(testLogger()))

	assert.NotPanics(t, func() {
		cycle := r.Refresh(context.Background(), 7, nil)
		waitCycle(t, cycle)
		assert.Zero(t, cycle.Requested())

		cycle = r.Refresh(context.Background(), 7, []Checkbox{
			{Value: "42", Checked: false, Display: newDisplay("")},
		})
		waitCycle(t, cycle)
		assert.Zero(t, cycle.Requested())
	})
	assert.Empty(t, f.Calls())
}

func TestRefresh_NoStoreSelected(t *testing.T) {
	f := &recordingFetcher{}
	r := NewRefresher(f, WithLogger(testLogger()))

	for _, storeID := range []int{-1, 0} {
		cycle := r.Refresh(context.Background(), storeID, []Checkbox{
			{Value: "42", Checked: true, Display: newDisplay("")},
		})
		waitCycle(t, cycle)
		assert.Zero(t, cycle.Requested())
	}
	assert.Empty(t, f.Calls())
}

func TestRefresh_KnownQuantitySkipped(t *testing.T) {
	tests := []struct {
		text      string
		wantFetch bool
	}{
		{"", true},
		{"0", true},
		{"-1", true},
		{"n/a", true},
		{"5", false},
		{" 12 bottles", false},
	}

	for _, tt := range tests {
		t.Run(strconv.Quote(tt.text), func(t *testing.T) {
			f := &recordingFetcher{}
			r := NewRefresher(f, WithLogger(testLogger()))

			cycle := r.Refresh(context.Background(), 3, []Checkbox{
				{Value: "100", Checked: true, Display: newDisplay(tt.text)},
			})
			waitCycle(t, cycle)

			assert.Equal(t, tt.wantFetch, len(f.Calls()) == 1)
		})
	}
}

func TestRefresh_UpdatesOnlyMatchingDisplay(t *testing.T) {
	f := &recordingFetcher{fn: func(_ context.Context, storeID, productID int) (Level, error) {
		return Level{StoreID: storeID, ProductID: productID, Quantity: 10}, nil
	}}
	r := NewRefresher(f, WithLogger(testLogger()))

	d42 := newDisplay("")
	d43 := newDisplay("8")
	d44 := newDisplay("")

	cycle := r.Refresh(context.Background(), 7, []Checkbox{
		{Value: "42", Checked: true, Display: d42},
		{Value: "43", Checked: true, Display: d43},
		{Value: "44", Checked: false, Display: d44},
	})
	waitCycle(t, cycle)

	assert.Equal(t, "10", d42.Text())
	assert.Equal(t, "8", d43.Text())
	assert.Zero(t, d43.Shown())
	assert.Equal(t, "", d44.Text())
	assert.Zero(t, d44.Shown())
}

func TestRefresh_ResponseProductIDSelectsDisplay(t *testing.T) {
	// the API answers for a different product than asked
	f := &recordingFetcher{fn: func(_ context.Context, storeID, _ int) (Level, error) {
		return Level{StoreID: storeID, ProductID: 43, Quantity: 4}, nil
	}}
	r := NewRefresher(f, WithLogger(testLogger()))

	d42 := newDisplay("")
	d43 := newDisplay("9")

	cycle := r.Refresh(context.Background(), 7, []Checkbox{
		{Value: "42", Checked: true, Display: d42},
		{Value: "43", Checked: true, Display: d43},
	})
	waitCycle(t, cycle)

	assert.Equal(t, "", d42.Text())
	assert.Equal(t, "4", d43.Text())
}

func TestRefresh_UnknownProductInResponseIgnored(t *testing.T) {
	f := &recordingFetcher{fn: func(context.Context, int, int) (Level, error) {
		return Level{ProductID: 999, Quantity: 4}, nil
	}}
	log := &resultLog{}
	r := NewRefresher(f, WithLogger(testLogger()), WithResultCallback(log.add))

	d42 := newDisplay("")
	cycle := r.Refresh(context.Background(), 7, []Checkbox{{Value: "42", Checked: true, Display: d42}})
	waitCycle(t, cycle)

	assert.Equal(t, "", d42.Text())
	require.Len(t, log.All(), 1)
	assert.False(t, log.All()[0].Applied)
}

func TestRefresh_FetchErrorIsNoop(t *testing.T) {
	boom := errors.New("503 from upstream")
	f := &recordingFetcher{fn: func(context.Context, int, int) (Level, error) {
		return Level{}, boom
	}}
	log := &resultLog{}
	r := NewRefresher(f, WithLogger(testLogger()), WithResultCallback(log.add))

	display := newDisplay("")
	cycle := r.Refresh(context.Background(), 7, []Checkbox{{Value: "42", Checked: true, Display: display}})
	waitCycle(t, cycle)

	assert.Equal(t, "", display.Text())
	results := log.All()
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Error, boom)
	assert.False(t, results[0].Applied)

	// no retry
	assert.Len(t, f.Calls(), 1)
}

func TestRefresh_StaleResultDiscarded(t *testing.T) {
	gate := make(chan struct{})
	inFlight := make(chan struct{})
	f := &recordingFetcher{fn: func(_ context.Context, storeID, productID int) (Level, error) {
		// ignores cancellation, like a response already on the wire
		close(inFlight)
		<-gate
		return Level{StoreID: storeID, ProductID: productID, Quantity: 99}, nil
	}}
	log := &resultLog{}
	r := NewRefresher(f, WithLogger(testLogger()), WithResultCallback(log.add))

	display := newDisplay("")
	first := r.Refresh(context.Background(), 7, []Checkbox{{Value: "42", Checked: true, Display: display}})
	<-inFlight

	second := r.Refresh(context.Background(), 7, nil)
	waitCycle(t, second)

	close(gate)
	waitCycle(t, first)

	assert.Equal(t, uint64(1), first.Generation())
	assert.Equal(t, uint64(2), second.Generation())
	assert.Equal(t, "", display.Text())

	results := log.All()
	require.Len(t, results, 1)
	assert.True(t, results[0].Stale)
	assert.False(t, results[0].Applied)
}

func TestRefresh_NewCycleCancelsPrevious(t *testing.T) {
	inFlight := make(chan struct{})
	var once sync.Once
	f := &recordingFetcher{fn: func(ctx context.Context, _, _ int) (Level, error) {
		once.Do(func() { close(inFlight) })
		<-ctx.Done()
		return Level{}, ctx.Err()
	}}
	r := NewRefresher(f, WithLogger(testLogger()), WithMaxConcurrency(1))

	first := r.Refresh(context.Background(), 7, []Checkbox{
		{Value: "1", Checked: true, Display: newDisplay("")},
		{Value: "2", Checked: true, Display: newDisplay("")},
		{Value: "3", Checked: true, Display: newDisplay("")},
	})
	<-inFlight

	r.Refresh(context.Background(), 7, nil)
	waitCycle(t, first)

	// remaining queued fetches of the cancelled cycle are never issued
	assert.Len(t, f.Calls(), 1)
}

func TestRefresh_GenerationIncrements(t *testing.T) {
	r := NewRefresher(&recordingFetcher{}, WithLogger(testLogger()))
	assert.Zero(t, r.Generation())

	for i := 1; i <= 3; i++ {
		c := r.Refresh(context.Background(), 1, nil)
		waitCycle(t, c)
		assert.Equal(t, uint64(i), c.Generation())
	}
	assert.Equal(t, uint64(3), r.Generation())
}

func TestRefresh_RespectsMaxConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	f := &recordingFetcher{fn: func(_ context.Context, storeID, productID int) (Level, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return Level{StoreID: storeID, ProductID: productID, Quantity: 1}, nil
	}}
	r := NewRefresher(f, WithLogger(testLogger()), WithMaxConcurrency(2))

	boxes := make([]Checkbox, 6)
	for i := range boxes {
		boxes[i] = Checkbox{Value: strconv.Itoa(i + 1), Checked: true, Display: newDisplay("")}
	}

	cycle := r.Refresh(context.Background(), 7, boxes)
	waitCycle(t, cycle)

	assert.Len(t, f.Calls(), 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	for _, b := range boxes {
		assert.Equal(t, "1", b.Display.Text())
	}
}

func TestRefresh_FetcherPanicRecovered(t *testing.T) {
	f := FetcherFunc(func(context.Context, int, int) (Level, error) {
		panic("nil map write")
	})
	log := &resultLog{}
	r := NewRefresher(f, WithLogger(testLogger()), WithResultCallback(log.add))

	display := newDisplay("")
	cycle := r.Refresh(context.Background(), 7, []Checkbox{{Value: "42", Checked: true, Display: display}})
	waitCycle(t, cycle)

	results := log.All()
	require.Len(t, results, 1)
	require.Error(t, results[0].Error)
	assert.Contains(t, results[0].Error.Error(), "correlation_id")
	assert.Equal(t, "", display.Text())
}

func TestRefresh_CallbackPanicRecovered(t *testing.T) {
	var calls atomic.Int32
	r := NewRefresher(&recordingFetcher{},
		WithLogger(testLogger()),
		WithResultCallback(func(Result) { panic("callback bug") }),
		WithResultCallback(func(Result) { calls.Add(1) }),
	)

	display := newDisplay("")
	cycle := r.Refresh(context.Background(), 7, []Checkbox{{Value: "8", Checked: true, Display: display}})
	waitCycle(t, cycle)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "3", display.Text())
}

func TestRefresh_DuplicateProductFirstDisplayWins(t *testing.T) {
	r := NewRefresher(&recordingFetcher{}, WithLogger(testLogger()))

	first := newDisplay("")
	second := newDisplay("")
	cycle := r.Refresh(context.Background(), 7, []Checkbox{
		{Value: "40", Checked: true, Display: first},
		{Value: "40", Checked: true, Display: second},
	})
	waitCycle(t, cycle)

	assert.Equal(t, 2, cycle.Requested())
	assert.Equal(t, "11", first.Text())
	assert.Zero(t, second.Shown())
}

func TestClose_StopsFurtherCycles(t *testing.T) {
	f := &recordingFetcher{}
	r := NewRefresher(f, WithLogger(testLogger()))
	r.Close()

	cycle := r.Refresh(context.Background(), 7, []Checkbox{{Value: "42", Checked: true, Display: newDisplay("")}})
	waitCycle(t, cycle)

	assert.Zero(t, cycle.Requested())
	assert.Empty(t, f.Calls())

	// idempotent
	r.Close()
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"42", 42},
		{" 42", 42},
		{"\t7\n", 7},
		{"42abc", 42},
		{"42.9", 42},
		{"+5", 5},
		{"-5", -5},
		{"", 0},
		{"abc", 0},
		{"-", 0},
		{"0042", 42},
		{"99999999999999999999999", int(^uint(0) >> 1)},
	}

	for _, tt := range tests {
		t.Run(strconv.Quote(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, ParseInt(tt.in))
		})
	}
}
