package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/storefinder/internal/board"
	"github.com/jpalmerr/storefinder/internal/inventory"
	"github.com/jpalmerr/storefinder/internal/locator"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// DefaultIdleTimeout is used when Config.IdleTimeout is zero.
const DefaultIdleTimeout = 30 * time.Minute

// Config holds what every new session is built from.
type Config struct {
	// Locator configures each session's locator. Source is required.
	Locator locator.Config

	// Fetcher performs inventory lookups. Required.
	Fetcher inventory.Fetcher

	// MaxConcurrency bounds concurrent inventory fetches per cycle.
	MaxConcurrency int

	// IdleTimeout is how long a session may go unused before Sweep removes it.
	IdleTimeout time.Duration

	// OnResult, if set, receives every inventory result of every session.
	OnResult func(sessionID string, res inventory.Result)

	Logger *slog.Logger
}

// Registry owns the live sessions.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session

	now func() time.Time
}

// NewRegistry creates a [Registry]. Session contexts derive from ctx, so
// cancelling it ends every session. It panics if cfg.Fetcher or
// cfg.Locator.Source is nil.
func NewRegistry(ctx context.Context, cfg Config) *Registry {
	if cfg.Fetcher == nil {
		panic("session: nil inventory Fetcher")
	}
	if cfg.Locator.Source == nil {
		panic("session: nil StoreSource")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Locator.Logger == nil {
		cfg.Locator.Logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Registry{
		cfg:      cfg,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create starts a new session.
func (r *Registry) Create() *Session {
	id := uuid.NewString()
	logger := r.logger.With("session_id", id)

	opts := []inventory.Option{
		inventory.WithLogger(logger),
		inventory.WithMaxConcurrency(r.cfg.MaxConcurrency),
	}
	if cb := r.cfg.OnResult; cb != nil {
		opts = append(opts, inventory.WithResultCallback(func(res inventory.Result) {
			cb(id, res)
		}))
	}

	locCfg := r.cfg.Locator
	locCfg.Logger = logger

	ctx, cancel := context.WithCancel(r.ctx)
	now := r.now()
	s := &Session{
		id:        id,
		createdAt: now,
		ctx:       ctx,
		cancel:    cancel,
		locator:   locator.New(locCfg),
		refresher: inventory.NewRefresher(r.cfg.Fetcher, opts...),
		board:     board.NewMemoryBoard(),
	}
	s.touch(now)

	r.mu.Lock()
	r.sessions[id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("session created", "session_id", id, "sessions", count)
	return s
}

// Get returns the session with the given id and marks it as used.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(r.now())
	return s, nil
}

// Remove ends the session with the given id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	s.close()
	r.logger.Info("session removed", "session_id", id)
	return nil
}

// Sweep removes sessions idle for longer than the idle timeout and returns
// how many were removed. A session with an open SSE or WebSocket stream is
// in use and is marked as seen instead.
func (r *Registry) Sweep() int {
	now := r.now()
	cutoff := now.Add(-r.cfg.IdleTimeout)

	var expired []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.board.Subscribers() > 0 {
			s.touch(now)
			continue
		}
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.close()
		r.logger.Info("session expired", "session_id", s.id, "last_seen", s.LastSeen())
	}
	return len(expired)
}

// Run sweeps idle sessions every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("idle sessions swept", "removed", n)
			}
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IdleTimeout returns the configured idle timeout.
func (r *Registry) IdleTimeout() time.Duration {
	return r.cfg.IdleTimeout
}

// Close removes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	r.cancel()
	for _, s := range sessions {
		s.close()
	}
}
