package cart

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrSessionRequired is returned when a session id is empty.
var ErrSessionRequired = errors.New("cart session id required")

// Repository persists carts between requests, keyed by session id. Load
// returns an empty cart for unknown sessions.
type Repository interface {
	Load(ctx context.Context, sessionID string) (Cart, error)
	Save(ctx context.Context, sessionID string, c Cart) error
}

// SessionOption configures Sessions.
type SessionOption func(*Sessions)

// WithIdleTimeout sets how long an unused store stays in memory.
func WithIdleTimeout(d time.Duration) SessionOption {
	return func(s *Sessions) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithKeepAlive protects the stores of sessions for which keep reports true
// from eviction, e.g. sessions with a checkout in flight.
func WithKeepAlive(keep func(sessionID string) bool) SessionOption {
	return func(s *Sessions) { s.keep = keep }
}

// WithSessionClock overrides time.Now.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Sessions) { s.now = now }
}

type entry struct {
	store    *Store
	lastUsed time.Time
}

// Sessions maps shopping sessions to their stores. Stores are restored from
// the repository on first use, saved after every mutation and dropped from
// memory once idle. Without a repository an evicted cart is gone.
type Sessions struct {
	repo        Repository
	lg          *zap.Logger
	saveTimeout time.Duration
	idleTimeout time.Duration
	keep        func(sessionID string) bool
	now         func() time.Time

	loads singleflight.Group

	mu     sync.Mutex
	stores map[string]*entry
}

// NewSessions creates Sessions backed by repo. A nil repo keeps carts in
// memory only.
func NewSessions(repo Repository, lg *zap.Logger, opts ...SessionOption) *Sessions {
	if lg == nil {
		lg = zap.NewNop()
	}
	s := &Sessions{
		repo:        repo,
		lg:          lg,
		saveTimeout: 2 * time.Second,
		idleTimeout: 30 * time.Minute,
		now:         time.Now,
		stores:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the store for the session, restoring it when needed.
// Concurrent first requests for one session share a single repository load.
func (s *Sessions) Get(ctx context.Context, sessionID string) (*Store, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	if st, ok := s.touch(sessionID); ok {
		return st, nil
	}

	v, err, _ := s.loads.Do(sessionID, func() (any, error) {
		if st, ok := s.touch(sessionID); ok {
			return st, nil
		}

		c := Empty()
		if s.repo != nil {
			loaded, err := s.repo.Load(ctx, sessionID)
			if err != nil {
				return nil, errors.Wrap(err, "load cart")
			}
			c = loaded
		}

		st := NewStore(c)
		if s.repo != nil {
			st.Subscribe(s.saver(sessionID))
		}

		s.mu.Lock()
		s.stores[sessionID] = &entry{store: st, lastUsed: s.now()}
		s.mu.Unlock()
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

// Len returns the number of stores held in memory.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stores)
}

// Evict drops stores unused for longer than the idle timeout and returns
// how many were dropped. Kept-alive sessions stay.
func (s *Sessions) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, e := range s.stores {
		if now.Sub(e.lastUsed) <= s.idleTimeout {
			continue
		}
		if s.keep != nil && s.keep(id) {
			continue
		}
		delete(s.stores, id)
		n++
	}
	return n
}

// Run evicts idle stores periodically until ctx is done.
func (s *Sessions) Run(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.idleTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Evict(s.now()); n > 0 {
					s.lg.Debug("Evicted idle carts", zap.Int("count", n))
				}
			}
		}
	}()
}

func (s *Sessions) touch(sessionID string) (*Store, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.stores[sessionID]
	if !ok {
		return nil, false
	}
	e.lastUsed = s.now()
	return e.store, true
}

// saver persists every new cart of the session. Failures are logged; the
// in-memory store stays authoritative for the running process.
func (s *Sessions) saver(sessionID string) func(Cart) {
	return func(c Cart) {
		ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
		defer cancel()

		if err := s.repo.Save(ctx, sessionID, c); err != nil {
			s.lg.Warn("Save cart",
				zap.String("session", sessionID),
				zap.Int("items", c.Len()),
				zap.Error(err),
			)
		}
	}
}
