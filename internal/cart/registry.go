package cart

import (
	"context"
	"sync"
	"time"
)

const (
	defaultIdleTimeout = 30 * time.Minute
	defaultMaxSessions = 10000
)

// IdentityObserver is notified when the identity bound to a session changes.
type IdentityObserver interface {
	OnIdentityChange(ctx context.Context, userID string, state *State)
}

type session struct {
	state    *State
	userID   string
	lastSeen time.Time
}

// Registry owns one cart State per logged-in client session and tells observers
// whenever a session logs in, logs out or switches user.
// Anonymous sessions are never retained: a guest cart is always empty.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*session
	observers   []IdentityObserver
	idleTimeout time.Duration
	maxSessions int
	now         func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithIdleTimeout sets how long an unused session is kept
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithMaxSessions caps the number of retained sessions; the least recently used one is evicted first
func WithMaxSessions(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxSessions = n
		}
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty session registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:    make(map[string]*session),
		idleTimeout: defaultIdleTimeout,
		maxSessions: defaultMaxSessions,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers an observer for identity changes
func (r *Registry) Subscribe(o IdentityObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Bind attaches userID to the session and returns its cart state.
// Observers run synchronously when the session is new or its identity changed.
// Binding an empty identity logs the session out and forgets it.
func (r *Registry) Bind(ctx context.Context, sessionID, userID string) *State {
	r.mu.Lock()
	now := r.now()
	sess, ok := r.sessions[sessionID]
	changed := !ok || sess.userID != userID

	switch {
	case userID == "":
		if ok {
			delete(r.sessions, sessionID)
		}
		sess = &session{state: NewState()}
	case !ok:
		r.makeRoom(now)
		sess = &session{state: NewState()}
		r.sessions[sessionID] = sess
	}
	sess.userID = userID
	sess.lastSeen = now
	observers := append([]IdentityObserver(nil), r.observers...)
	r.mu.Unlock()

	if changed {
		for _, o := range observers {
			o.OnIdentityChange(ctx, userID, sess.state)
		}
	}
	return sess.state
}

// makeRoom drops idle sessions and, when the registry is still full, the least recently used one.
// The caller holds r.mu.
func (r *Registry) makeRoom(now time.Time) {
	if len(r.sessions) < r.maxSessions {
		return
	}
	r.sweep(now)
	for len(r.sessions) >= r.maxSessions {
		var (
			oldestID string
			oldest   time.Time
		)
		for id, s := range r.sessions {
			if oldestID == "" || s.lastSeen.Before(oldest) {
				oldestID, oldest = id, s.lastSeen
			}
		}
		delete(r.sessions, oldestID)
	}
}

func (r *Registry) sweep(now time.Time) int {
	removed := 0
	for id, s := range r.sessions {
		if now.Sub(s.lastSeen) > r.idleTimeout {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Sweep drops sessions that have been idle longer than the idle timeout and returns how many went
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweep(r.now())
}

// Run sweeps idle sessions every interval until ctx is done
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Forget drops a session and its cart state
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
