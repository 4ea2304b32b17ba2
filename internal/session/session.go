// Package session implements the Session Store: session lifecycle, TTL
// expiry, and periodic reaping over a single mutex-guarded map.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oneagent/mcp-transport-core/internal/mcperr"
)

// State is one of the three session lifecycle states.
type State string

const (
	Active     State = "active"
	Expired    State = "expired"
	Terminated State = "terminated"
)

// Session is a client's logical connection across one or more HTTP
// requests.
type Session struct {
	ID           string
	ClientID     string
	Origin       string
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	State        State
}

// clock lets tests inject deterministic time without the caller ever
// reaching for time.Now()/time.Since() imprecision across goroutines.
type clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store owns all Sessions behind a single mutex.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	logger   *slog.Logger
	clock    clock

	stopReap chan struct{}
}

// New constructs a Store with the given default TTL for newly created
// sessions and starts a background reaper at the given interval. Callers
// own the returned Store's lifetime; call Close to stop the reaper.
func New(ttl time.Duration, reapInterval time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger,
		clock:    realClock{},
		stopReap: make(chan struct{}),
	}
	if reapInterval > 0 {
		go s.reapLoop(reapInterval)
	}
	return s
}

// NewID mints an opaque session id with >=128 bits of entropy.
func NewID() string {
	return uuid.NewString()
}

// Create inserts a new session, or fails with SessionExists if the id is
// already present.
func (s *Store) Create(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return mcperr.SessionExists(sess.ID)
	}
	if sess.State == "" {
		sess.State = Active
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// Get returns a copy of the session with date fields normalized. If the
// session is Expired, or its expiry has passed, it is marked Expired and
// "not found" is returned externally.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, mcperr.SessionNotFound(id)
	}

	now := s.clock.Now()
	if sess.State == Expired || !now.Before(sess.ExpiresAt) {
		sess.State = Expired
		return nil, mcperr.SessionNotFound(id)
	}
	if sess.State == Terminated {
		return nil, mcperr.SessionNotFound(id)
	}

	cp := *sess
	return &cp, nil
}

// Patch describes a mutation applied atomically by Update.
type Patch struct {
	LastActivity *time.Time
	ExpiresAt    *time.Time
}

// Update applies patch to the session identified by id, or fails with
// SessionNotFound if missing.
func (s *Store) Update(id string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return mcperr.SessionNotFound(id)
	}
	if patch.LastActivity != nil {
		sess.LastActivity = *patch.LastActivity
	}
	if patch.ExpiresAt != nil {
		sess.ExpiresAt = *patch.ExpiresAt
	}
	return nil
}

// Touch bumps last-activity (and, if ttl>0, extends expiry) for an
// existing session — the common case of "any request reusing the id".
func (s *Store) Touch(id string) error {
	now := s.clock.Now()
	patch := Patch{LastActivity: &now}
	if s.ttl > 0 {
		exp := now.Add(s.ttl)
		patch.ExpiresAt = &exp
	}
	return s.Update(id, patch)
}

// Delete idempotently removes a session: state transitions to Terminated
// and is erased within the same critical section, so no external
// observer can see the intermediate Terminated state.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.State = Terminated
		delete(s.sessions, id)
	}
}

// ListActive returns sessions where state=Active and not yet expired.
func (s *Store) ListActive() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.State == Active && now.Before(sess.ExpiresAt) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out
}

// CleanupExpired scans and evicts expired sessions, returning the count
// removed.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for id, sess := range s.sessions {
		if sess.State == Expired || !now.Before(sess.ExpiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *Store) reapLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopReap:
			return
		case <-ticker.C:
			removed := s.CleanupExpired()
			if removed > 0 {
				// Logging happens outside the mutex: CleanupExpired has
				// already released it by the time we get here.
				s.logger.Info("reaped expired sessions", "count", removed)
			}
		}
	}
}

// Close stops the background reaper.
func (s *Store) Close() {
	close(s.stopReap)
}

// fakeClock lets tests pin "now" to exercise expiry boundaries
// deterministically.
type fakeClock struct{ t time.Time }

func (f fakeClock) Now() time.Time { return f.t }

func (s *Store) setClockForTest(t time.Time) {
	s.clock = fakeClock{t: t}
}
