// Package registry tracks every active [session.Session], indexed both by
// its own ID and by the client connection that owns it, and reaps sessions
// that have gone idle past their deadline.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arborview/transcriber/internal/apperr"
	"github.com/arborview/transcriber/internal/session"
)

// DefaultIdleTimeout is how long a session may go without a chunk before the
// sweep loop aborts it.
const DefaultIdleTimeout = 2 * time.Minute

// DefaultSweepInterval is how often the registry checks for idle sessions.
const DefaultSweepInterval = 15 * time.Second

type entry struct {
	sess     *session.Session
	lastSeen atomic64
}

// atomic64 stores a UnixNano timestamp without pulling in sync/atomic.Int64
// at every call site; it's a thin wrapper purely for readability here.
type atomic64 struct {
	mu sync.RWMutex
	ns int64
}

func (a *atomic64) store(t time.Time) {
	a.mu.Lock()
	a.ns = t.UnixNano()
	a.mu.Unlock()
}

func (a *atomic64) load() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return time.Unix(0, a.ns)
}

// Registry is the process-wide directory of active sessions. All exported
// methods are safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	byID         map[string]*entry
	byClient     map[string]map[string]struct{}
	idleTimeout  time.Duration
	sweepEvery   time.Duration
	cancel       context.CancelFunc
	sweepDone    chan struct{}
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idleTimeout = d }
}

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweepEvery = d }
}

// New creates a Registry and starts its idle-sweep goroutine. Call Close to
// stop the sweep loop and release resources.
func New(opts ...Option) *Registry {
	r := &Registry{
		byID:        make(map[string]*entry),
		byClient:    make(map[string]map[string]struct{}),
		idleTimeout: DefaultIdleTimeout,
		sweepEvery:  DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.sweepDone = make(chan struct{})
	go r.sweepLoop(ctx)
	return r
}

// Register adds a new session to the registry. It returns SESSION_CONFLICT
// if a session with the same ID is already registered.
func (r *Registry) Register(sess *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[sess.ID()]; exists {
		return apperr.New(apperr.CodeSessionConflict, "session id already active: "+sess.ID())
	}

	e := &entry{sess: sess}
	e.lastSeen.store(time.Now())
	r.byID[sess.ID()] = e

	set, ok := r.byClient[sess.ClientID()]
	if !ok {
		set = make(map[string]struct{})
		r.byClient[sess.ClientID()] = set
	}
	set[sess.ID()] = struct{}{}
	return nil
}

// Get returns the session with the given ID, or SESSION_NOT_FOUND.
func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, apperr.New(apperr.CodeSessionNotFound, "no such session: "+id)
	}
	return e.sess, nil
}

// Touch records activity on a session, resetting its idle-reap clock. A
// caller that can't find the session (already reaped) is a no-op.
func (r *Registry) Touch(id string) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if ok {
		e.lastSeen.store(time.Now())
	}
}

// Remove unregisters a session without touching its lifecycle; the caller
// is responsible for having already called End or Abort on it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id string) {
	e, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if set, ok := r.byClient[e.sess.ClientID()]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byClient, e.sess.ClientID())
		}
	}
}

// AbortClient aborts and unregisters every session owned by clientID,
// concurrently, and waits for all of them to finish cleaning up. It is
// called when a client's websocket connection drops.
func (r *Registry) AbortClient(ctx context.Context, clientID string) {
	r.mu.Lock()
	set, ok := r.byClient[clientID]
	if !ok {
		r.mu.Unlock()
		return
	}
	sessions := make([]*session.Session, 0, len(set))
	for id := range set {
		if e, ok := r.byID[id]; ok {
			sessions = append(sessions, e.sess)
		}
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			sess.Abort(gctx)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	for _, sess := range sessions {
		r.removeLocked(sess.ID())
	}
	r.mu.Unlock()
}

// Count returns the number of currently registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Close stops the sweep loop and returns once it has exited.
func (r *Registry) Close() {
	r.cancel()
	<-r.sweepDone
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer close(r.sweepDone)
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) sweepOnce(ctx context.Context) {
	now := time.Now()
	r.mu.RLock()
	var idle []*session.Session
	for _, e := range r.byID {
		if now.Sub(e.lastSeen.load()) > r.idleTimeout {
			idle = append(idle, e.sess)
		}
	}
	r.mu.RUnlock()

	if len(idle) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range idle {
		sess := sess
		g.Go(func() error {
			slog.Warn("registry: reaping idle session", "session_id", sess.ID(), "idle_for", r.idleTimeout)
			sess.Abort(gctx)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	for _, sess := range idle {
		r.removeLocked(sess.ID())
	}
	r.mu.Unlock()
}
