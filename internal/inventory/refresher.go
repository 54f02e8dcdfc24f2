package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMaxConcurrency = 10

// Level is a live stock count as reported by the inventory API.
type Level struct {
	StoreID   int `json:"store_id"`
	ProductID int `json:"product_id"`
	Quantity  int `json:"quantity"`
}

// Fetcher fetches the stock level of one product at one store.
type Fetcher interface {
	FetchInventory(ctx context.Context, storeID, productID int) (Level, error)
}

// FetcherFunc adapts a function to [Fetcher].
type FetcherFunc func(ctx context.Context, storeID, productID int) (Level, error)

// FetchInventory calls f(ctx, storeID, productID).
func (f FetcherFunc) FetchInventory(ctx context.Context, storeID, productID int) (Level, error) {
	return f(ctx, storeID, productID)
}

// Display is the quantity cell paired with a checkbox.
type Display interface {
	// Text returns the text currently shown in the cell.
	Text() string

	// Show writes a quantity into the cell.
	Show(quantity int)
}

// Checkbox is one product checkbox as seen at refresh time.
type Checkbox struct {
	// Value is the checkbox value, the product id as entered in the UI.
	Value string

	// Checked reports whether the user has selected the product.
	Checked bool

	// Display is the paired quantity cell. May be nil.
	Display Display
}

// Request is a single (store, product) inventory fetch issued by a cycle.
type Request struct {
	StoreID   int `json:"store_id"`
	ProductID int `json:"product_id"`
}

// Result is the outcome of one inventory fetch.
type Result struct {
	// Generation is the cycle that issued the fetch.
	Generation uint64

	StoreID   int
	ProductID int
	Quantity  int

	// Applied is true when the quantity was written to a display.
	Applied bool

	// Stale is true when a newer cycle had started before the result landed;
	// stale results are never written.
	Stale bool

	// Latency is the time taken by the fetch.
	Latency time.Duration

	// Error is non-nil when the fetch failed.
	Error error
}

// Option configures a [Refresher].
type Option func(*Refresher)

// WithMaxConcurrency bounds the number of concurrent fetches per cycle.
// Values below 1 are ignored.
func WithMaxConcurrency(n int) Option {
	return func(r *Refresher) {
		if n > 0 {
			r.maxConcurrency = n
		}
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResultCallback registers a function called once per fetch result,
// including failed and stale ones. Callbacks run on worker goroutines and
// must not block; panics are recovered and logged.
func WithResultCallback(cb func(Result)) Option {
	return func(r *Refresher) {
		if cb != nil {
			r.callbacks = append(r.callbacks, cb)
		}
	}
}

// Refresher issues inventory fetches for checked products.
//
// Only the most recent cycle may write to displays. Cycle start and result
// application share one mutex, so once [Refresher.Refresh] returns no result
// of an earlier cycle can be written.
type Refresher struct {
	fetcher        Fetcher
	maxConcurrency int
	logger         *slog.Logger
	callbacks      []func(Result)

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	closed     bool
	wg         sync.WaitGroup
}

// NewRefresher creates a [Refresher] that fetches through f.
func NewRefresher(f Fetcher, opts ...Option) *Refresher {
	r := &Refresher{
		fetcher:        f,
		maxConcurrency: defaultMaxConcurrency,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cycle is one invocation of [Refresher.Refresh].
type Cycle struct {
	generation uint64
	requests   []Request
	done       chan struct{}
}

// Generation returns the cycle's generation number, starting at 1.
func (c *Cycle) Generation() uint64 {
	return c.generation
}

// Requested returns the number of fetches the cycle issued.
func (c *Cycle) Requested() int {
	return len(c.requests)
}

// Requests returns a copy of the fetches the cycle issued, in checkbox order.
func (c *Cycle) Requests() []Request {
	cp := make([]Request, len(c.requests))
	copy(cp, c.requests)
	return cp
}

// Done returns a channel closed once every fetch of the cycle has finished
// or been abandoned.
func (c *Cycle) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the cycle is done.
func (c *Cycle) Wait() {
	<-c.done
}

// Generation returns the generation of the most recent cycle, 0 if none.
func (r *Refresher) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// Refresh starts a new cycle for storeID over the given checkboxes and
// returns immediately.
//
// One fetch is issued per checked checkbox whose display is empty or
// non-positive, provided storeID is positive and the checkbox value parses to
// a positive product id. The previous cycle, if any, is cancelled. Fetch
// failures are logged and otherwise ignored.
func (r *Refresher) Refresh(ctx context.Context, storeID int, boxes []Checkbox) *Cycle {
	checked, displays, requests := plan(storeID, boxes)

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.generation++
	gen := r.generation

	cycleCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	cycle := &Cycle{generation: gen, requests: requests, done: make(chan struct{})}

	if r.closed {
		r.mu.Unlock()
		cancel()
		cycle.requests = nil
		close(cycle.done)
		return cycle
	}
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Debug("inventory refresh started",
		"generation", gen,
		"store_id", storeID,
		"checked", checked,
		"requests", len(requests),
	)

	go func() {
		defer r.wg.Done()
		defer close(cycle.done)
		defer cancel()
		r.run(cycleCtx, gen, displays, requests)
	}()

	return cycle
}

// Close cancels the current cycle and waits for its workers to exit.
// Cycles started after Close issue no fetches.
func (r *Refresher) Close() {
	r.mu.Lock()
	r.closed = true
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
}

// plan snapshots the checked boxes, builds the product id to display map and
// lists the fetches to issue.
func plan(storeID int, boxes []Checkbox) (checked int, displays map[int]Display, requests []Request) {
	displays = make(map[int]Display)

	for _, box := range boxes {
		if !box.Checked {
			continue
		}
		checked++

		productID := ParseInt(box.Value)
		quantity := 0
		if box.Display != nil {
			// first checkbox wins for duplicated product ids
			if _, exists := displays[productID]; !exists && productID > 0 {
				displays[productID] = box.Display
			}
			quantity = ParseInt(box.Display.Text())
		}

		if storeID > 0 && productID > 0 && quantity <= 0 {
			requests = append(requests, Request{StoreID: storeID, ProductID: productID})
		}
	}

	return checked, displays, requests
}

// run fetches all requests of one cycle on at most maxConcurrency workers.
func (r *Refresher) run(ctx context.Context, gen uint64, displays map[int]Display, requests []Request) {
	if len(requests) == 0 {
		return
	}

	jobs := make(chan Request, len(requests))
	for _, req := range requests {
		jobs <- req
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < min(r.maxConcurrency, len(requests)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				if ctx.Err() != nil {
					return
				}
				r.apply(r.fetch(ctx, gen, req), displays)
			}
		}()
	}
	wg.Wait()
}

// fetch performs one inventory fetch with panic recovery.
func (r *Refresher) fetch(ctx context.Context, gen uint64, req Request) (res Result) {
	start := time.Now()
	res = Result{Generation: gen, StoreID: req.StoreID, ProductID: req.ProductID}

	defer func() {
		if p := recover(); p != nil {
			correlationID := uuid.NewString()
			r.logger.Error("inventory fetcher panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", p),
				"stack", string(debug.Stack()),
			)
			res.Latency = time.Since(start)
			res.Error = fmt.Errorf("inventory fetcher panic (correlation_id: %s)", correlationID)
		}
	}()

	level, err := r.fetcher.FetchInventory(ctx, req.StoreID, req.ProductID)
	res.Latency = time.Since(start)
	if err != nil {
		res.Error = err
		return res
	}

	// the response's product id decides which display is written
	res.ProductID = level.ProductID
	res.Quantity = level.Quantity
	return res
}

// apply writes a successful result of the current cycle to its display, then
// logs and reports it.
func (r *Refresher) apply(res Result, displays map[int]Display) {
	r.mu.Lock()
	res.Stale = res.Generation != r.generation
	if res.Error == nil && !res.Stale {
		if display, ok := displays[res.ProductID]; ok {
			display.Show(res.Quantity)
			res.Applied = true
		}
	}
	r.mu.Unlock()

	attrs := []any{
		"generation", res.Generation,
		"store_id", res.StoreID,
		"product_id", res.ProductID,
		"latency_ms", res.Latency.Milliseconds(),
	}
	switch {
	case res.Error != nil && (res.Stale || errors.Is(res.Error, context.Canceled)):
		r.logger.Debug("inventory fetch abandoned", append(attrs, "error", res.Error.Error())...)
	case res.Error != nil:
		r.logger.Warn("inventory fetch failed", append(attrs, "error", res.Error.Error())...)
	case res.Stale:
		r.logger.Debug("discarding stale inventory result", attrs...)
	default:
		r.logger.Debug("inventory fetched", append(attrs, "quantity", res.Quantity, "applied", res.Applied)...)
	}

	for _, cb := range r.callbacks {
		r.invokeCallbackSafe(cb, res)
	}
}

// invokeCallbackSafe calls a result callback with panic recovery.
func (r *Refresher) invokeCallbackSafe(cb func(Result), res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("inventory callback panicked",
				"panic", p,
				"product_id", res.ProductID,
			)
		}
	}()
	cb(res)
}
