package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jpalmerr/storefinder/internal/board"
	"github.com/jpalmerr/storefinder/internal/inventory"
	"github.com/jpalmerr/storefinder/internal/locator"
	"github.com/jpalmerr/storefinder/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testStores = []locator.Store{
	{ID: 1, PartnerID: 511, Name: "Queens Quay", Latitude: 43.64, Longitude: -79.40},
	{ID: 2, PartnerID: 217, Name: "Danforth", Latitude: 43.70, Longitude: -79.30},
}

// fakeSource serves testStores, or err when set.
type fakeSource struct {
	mu  sync.Mutex
	err error
}

func (f *fakeSource) FetchStores(context.Context) ([]locator.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return testStores, nil
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newTestRegistry(t testing.TB, src locator.StoreSource) *session.Registry {
	t.Helper()
	if src == nil {
		src = &fakeSource{}
	}
	reg := session.NewRegistry(context.Background(), session.Config{
		Locator: locator.Config{Source: src},
		Fetcher: inventory.FetcherFunc(func(_ context.Context, storeID, productID int) (inventory.Level, error) {
			return inventory.Level{StoreID: storeID, ProductID: productID, Quantity: 10}, nil
		}),
		Logger: testLogger(),
	})
	t.Cleanup(reg.Close)
	return reg
}

func newTestServer(t testing.TB) (*Server, *session.Session) {
	t.Helper()
	reg := newTestRegistry(t, nil)
	return NewServer(reg, 0, nil, "", testLogger()), reg.Create()
}

func sseRequest(ctx context.Context, sess *session.Session) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID()+"/sse", nil)
	return req.WithContext(ctx)
}

// serveAsync runs one SSE request in the background and returns a channel
// closed when the handler returns.
func serveAsync(srv *Server, w http.ResponseWriter, req *http.Request) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Handler().ServeHTTP(w, req)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}, within time.Duration, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(within):
		t.Fatalf("sse handler still running %v after %s", within, what)
	}
}

// decodeCells extracts the JSON cells from an event-stream body.
func decodeCells(body string) []board.Cell {
	var cells []board.Cell
	for _, line := range strings.Split(body, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var cell board.Cell
		if json.Unmarshal([]byte(payload), &cell) == nil {
			cells = append(cells, cell)
		}
	}
	return cells
}

func TestSSE_ReplaysCurrentCells(t *testing.T) {
	srv, sess := newTestServer(t)
	sess.Board().Update(board.Cell{Name: "42", Text: "10"})
	sess.Board().Update(board.Cell{Name: "43", Text: "0"})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, sseRequest(ctx, sess))

	cells := decodeCells(rec.Body.String())
	if len(cells) != 2 || cells[0].Name != "42" || cells[1].Name != "43" {
		t.Fatalf("replayed cells = %+v, want 42 then 43", cells)
	}

	for key, want := range map[string]string{
		"Content-Type":  "text/event-stream",
		"Cache-Control": "no-cache",
		"Connection":    "keep-alive",
	} {
		if got := rec.Header().Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestSSE_PushesDisplayWrites(t *testing.T) {
	srv, sess := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	done := serveAsync(srv, rec, sseRequest(ctx, sess))

	time.Sleep(50 * time.Millisecond)
	sess.Board().Display("77", 1).Show(5)
	time.Sleep(50 * time.Millisecond)
	cancel()
	waitDone(t, done, time.Second, "client disconnect")

	cells := decodeCells(rec.Body.String())
	if len(cells) != 1 || cells[0].Name != "77" || cells[0].Text != "5" {
		t.Errorf("pushed cells = %+v, want 77=5", cells)
	}
}

func TestSSE_StreamEnds(t *testing.T) {
	tests := []struct {
		name string
		// stop ends the stream; it receives the registry, the session and
		// the cancel func of the request context.
		stop func(t *testing.T, reg *session.Registry, sess *session.Session, cancel context.CancelFunc)
	}{
		{
			name: "client disconnect",
			stop: func(_ *testing.T, _ *session.Registry, _ *session.Session, cancel context.CancelFunc) {
				cancel()
			},
		},
		{
			name: "session removed",
			stop: func(t *testing.T, reg *session.Registry, sess *session.Session, _ context.CancelFunc) {
				if err := reg.Remove(sess.ID()); err != nil {
					t.Fatalf("Remove() error = %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t, nil)
			srv := NewServer(reg, 0, nil, "", testLogger())
			sess := reg.Create()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := serveAsync(srv, httptest.NewRecorder(), sseRequest(ctx, sess))

			time.Sleep(50 * time.Millisecond)
			tt.stop(t, reg, sess, cancel)
			waitDone(t, done, time.Second, tt.name)
		})
	}
}

func TestSSE_KeepaliveMarksSessionSeen(t *testing.T) {
	prev := keepaliveInterval
	keepaliveInterval = 20 * time.Millisecond
	t.Cleanup(func() { keepaliveInterval = prev })

	srv, sess := newTestServer(t)
	connected := sess.LastSeen()

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	done := serveAsync(srv, rec, sseRequest(ctx, sess))

	time.Sleep(120 * time.Millisecond)
	cancel()
	waitDone(t, done, time.Second, "client disconnect")

	if !strings.Contains(rec.Body.String(), ": keepalive") {
		t.Errorf("body has no keepalive comment: %q", rec.Body.String())
	}
	if !sess.LastSeen().After(connected) {
		t.Errorf("LastSeen() = %v, want after %v", sess.LastSeen(), connected)
	}
}

func TestSSE_UnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/nope/sse", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// plainWriter is a ResponseWriter without http.Flusher.
type plainWriter struct {
	header http.Header
	status int
}

func (p *plainWriter) Header() http.Header         { return p.header }
func (p *plainWriter) Write(b []byte) (int, error) { return len(b), nil }
func (p *plainWriter) WriteHeader(status int)      { p.status = status }

func TestSSE_RequiresFlusher(t *testing.T) {
	srv, sess := newTestServer(t)
	w := &plainWriter{header: http.Header{}}
	srv.Handler().ServeHTTP(w, sseRequest(context.Background(), sess))

	if w.status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.status)
	}
}

func TestSSE_ManyClientsStopTogether(t *testing.T) {
	srv, sess := newTestServer(t)
	sess.Board().Update(board.Cell{Name: "42", Text: "1"})

	// requests derive from one parent the way BaseContext wires them
	parent, stop := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.Handler().ServeHTTP(httptest.NewRecorder(), sseRequest(parent, sess))
		}()
	}

	time.Sleep(100 * time.Millisecond)
	stop()

	all := make(chan struct{})
	go func() {
		wg.Wait()
		close(all)
	}()
	waitDone(t, all, 3*time.Second, "server context cancelled")
}

func TestSSE_HandlersDoNotLeak(t *testing.T) {
	srv, sess := newTestServer(t)

	runtime.GC()
	time.Sleep(100 * time.Millisecond)
	baseline := runtime.NumGoroutine()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			srv.Handler().ServeHTTP(httptest.NewRecorder(), sseRequest(ctx, sess))
		}()
	}
	wg.Wait()

	runtime.GC()
	time.Sleep(200 * time.Millisecond)
	if now := runtime.NumGoroutine(); now > baseline+2 {
		t.Errorf("goroutines grew from %d to %d", baseline, now)
	}
}

// TestSSE_RealConnectionClosesOnShutdown runs over a real TCP connection so
// write deadlines are in effect.
func TestSSE_RealConnectionClosesOnShutdown(t *testing.T) {
	srv, sess := newTestServer(t)
	parent, stop := context.WithCancel(context.Background())

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.Handler().ServeHTTP(w, r.WithContext(parent))
	}))
	defer ts.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		resp, err := ts.Client().Get(ts.URL + "/api/sessions/" + sess.ID() + "/sse")
		if err != nil {
			return
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)
	}()

	time.Sleep(100 * time.Millisecond)
	stop()
	waitDone(t, closed, 3*time.Second, "server context cancelled")
}

func TestStart(t *testing.T) {
	t.Run("free port", func(t *testing.T) {
		srv := NewServer(newTestRegistry(t, nil), 0, nil, "", testLogger())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := srv.Start(ctx); err != nil {
			t.Errorf("Start() error = %v", err)
		}
	})

	t.Run("port taken", func(t *testing.T) {
		ln, err := net.Listen("tcp", ":0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		defer func() { _ = ln.Close() }()

		srv := NewServer(newTestRegistry(t, nil), ln.Addr().(*net.TCPAddr).Port, nil, "", testLogger())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err = srv.Start(ctx)
		if err == nil || !strings.Contains(err.Error(), "failed to bind") {
			t.Errorf("Start() error = %v, want bind failure", err)
		}
	})

	t.Run("negative port", func(t *testing.T) {
		srv := NewServer(newTestRegistry(t, nil), -1, nil, "", testLogger())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := srv.Start(ctx); err == nil {
			t.Error("Start() error = nil, want error")
		}
	})
}

// gatedSource holds FetchStores until release is closed.
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) FetchStores(context.Context) ([]locator.Store, error) {
	close(g.entered)
	<-g.release
	return testStores, nil
}

func TestStart_DoneWaitsForInFlightRequests(t *testing.T) {
	src := &gatedSource{entered: make(chan struct{}), release: make(chan struct{})}
	reg := newTestRegistry(t, src)
	srv := NewServer(reg, 0, nil, "", testLogger())
	sess := reg.Create()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/sessions/%s/locate", srv.Addr().(*net.TCPAddr).Port, sess.ID())
	status := make(chan int, 1)
	go func() {
		resp, err := http.Post(url, "application/json", strings.NewReader(`{"latitude": 43.65, "longitude": -79.39}`))
		if err != nil {
			status <- 0
			return
		}
		_ = resp.Body.Close()
		status <- resp.StatusCode
	}()

	<-src.entered
	cancel()

	select {
	case <-srv.Done():
		t.Fatal("Done() closed while a request was still running")
	case <-time.After(200 * time.Millisecond):
	}

	close(src.release)
	waitDone(t, srv.Done(), 3*time.Second, "the last request finished")

	if got := <-status; got != http.StatusOK {
		t.Errorf("in-flight locate status = %d, want 200", got)
	}
}

func BenchmarkSSE_Replay(b *testing.B) {
	srv, sess := newTestServer(b)
	for i := range 10 {
		sess.Board().Display(string(rune('A'+i)), 1).Show(i)
	}

	b.ResetTimer()
	for range b.N {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		srv.Handler().ServeHTTP(httptest.NewRecorder(), sseRequest(ctx, sess))
		cancel()
	}
}

func renderDashboard(t *testing.T, page, title, path string) *httptest.ResponseRecorder {
	t.Helper()
	var assets fstest.MapFS
	if page != "" {
		assets = fstest.MapFS{"assets/index.html": {Data: []byte(page)}}
	}
	var srv *Server
	if assets == nil {
		srv = NewServer(newTestRegistry(t, nil), 0, nil, title, testLogger())
	} else {
		srv = NewServer(newTestRegistry(t, nil), 0, assets, title, testLogger())
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDashboard(t *testing.T) {
	const page = "<title>{{.Title}}</title><h1>{{.Title}}</h1>"

	tests := []struct {
		name       string
		page       string
		title      string
		path       string
		wantStatus int
		wantBody   []string
		denyBody   []string
	}{
		{
			name:       "custom title",
			page:       page,
			title:      "Wine Run",
			path:       "/",
			wantStatus: http.StatusOK,
			wantBody:   []string{"<title>Wine Run</title>", "<h1>Wine Run</h1>"},
		},
		{
			name:       "default title",
			page:       page,
			path:       "/",
			wantStatus: http.StatusOK,
			wantBody:   []string{"<title>Store Finder</title>"},
		},
		{
			name:       "title is escaped",
			page:       page,
			title:      "<script>alert('x')</script> & co",
			path:       "/",
			wantStatus: http.StatusOK,
			wantBody:   []string{"&lt;script&gt;", "&amp; co"},
			denyBody:   []string{"<script>"},
		},
		{
			name:       "no assets",
			title:      "Custom",
			path:       "/",
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "unknown path",
			page:       page,
			path:       "/other",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := renderDashboard(t, tt.page, tt.title, tt.path)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := rec.Body.String()
			for _, s := range tt.wantBody {
				if !strings.Contains(body, s) {
					t.Errorf("body missing %q: %s", s, body)
				}
			}
			for _, s := range tt.denyBody {
				if strings.Contains(body, s) {
					t.Errorf("body contains %q: %s", s, body)
				}
			}
		})
	}
}
