package bridge

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/switchboard/internal/observability"
)

// CallSummary is the metadata snapshot handed to the destroy hook when a
// session ends.
type CallSummary struct {
	SessionID         string
	Direction         string
	Counterpart       string
	StartedAt         time.Time
	EndedAt           time.Time
	TranscriptEntries int
	Interruptions     int
}

// Registry is the sole authority mapping session ids to sessions. Sessions
// are created lazily on first reference and destroyed when their absolute
// TTL fires or their last peer detaches.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	ttl       time.Duration
	metrics   *observability.Metrics
	onDestroy func(CallSummary)
	onExpire  func(*Session)
}

func NewRegistry(ttl time.Duration, metrics *observability.Metrics) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		metrics:  metrics,
	}
}

// SetDestroyHook installs a callback invoked once per destroyed session.
func (r *Registry) SetDestroyHook(fn func(CallSummary)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDestroy = fn
}

// SetExpireHook installs a callback invoked when a session's absolute TTL
// fires, before the session is destroyed.
func (r *Registry) SetExpireHook(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = fn
}

// GetOrCreate returns the session for id, creating it on first reference.
// An empty id synthesizes one, for monitor pre-warming and test sessions.
// The expiry timer starts at creation only and is never refreshed: the TTL
// is an absolute session lifetime, not an idle timeout.
func (r *Registry) GetOrCreate(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}

	s := newSession(id)
	s.expire = time.AfterFunc(r.ttl, func() {
		log.Printf("session %s: ttl expired, destroying", id)
		r.mu.Lock()
		hook := r.onExpire
		r.mu.Unlock()
		if hook != nil {
			hook(s)
		}
		r.Destroy(id)
	})
	r.sessions[id] = s
	if r.metrics != nil {
		r.metrics.SessionEvents.WithLabelValues("created").Inc()
		r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
	return s
}

// Get returns the session for id without creating one.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Destroy removes the session, cancels its expiry timer, and force-closes
// any peer connection still attached. Safe to call repeatedly; only the
// first call does work and fires the destroy hook.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	hook := r.onDestroy
	live := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}

	conns, summary, first := s.teardown()
	for _, c := range conns {
		_ = c.Close()
	}
	if !first {
		return
	}
	if r.metrics != nil {
		r.metrics.SessionEvents.WithLabelValues("destroyed").Inc()
		r.metrics.ActiveSessions.Set(float64(live))
	}
	if hook != nil {
		go hook(summary)
	}
}

// destroyIfAbandoned removes the session when no peer remains attached.
func (r *Registry) destroyIfAbandoned(s *Session) {
	if s.peerless() {
		r.Destroy(s.ID)
	}
}
