package graphstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	cerr "github.com/semcode/semcode/internal/errors"
)

// session is one leased query slot. Queries that error out are
// force-released immediately; anything left behind is reaped.
type session struct {
	id      string
	space   string
	started time.Time
}

type sessionManager struct {
	max    int
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*session
}

func newSessionManager(max int, ttl time.Duration, logger *slog.Logger) *sessionManager {
	return &sessionManager{
		max:    max,
		ttl:    ttl,
		logger: logger,
		active: make(map[string]*session),
	}
}

func (m *sessionManager) acquire(space string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.active) >= m.max {
		return nil, cerr.Newf(cerr.KindTransient, "all %d graph sessions are in use", m.max).
			WithHint("retry shortly or raise graph.max_sessions")
	}
	s := &session{id: uuid.NewString(), space: space, started: time.Now()}
	m.active[s.id] = s
	return s, nil
}

func (m *sessionManager) release(s *session) {
	m.mu.Lock()
	delete(m.active, s.id)
	m.mu.Unlock()
}

func (m *sessionManager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// reap closes sessions older than the TTL and returns how many died.
func (m *sessionManager) reap() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-m.ttl)
	var reaped int
	for id, s := range m.active {
		if s.started.Before(cutoff) {
			delete(m.active, id)
			reaped++
			m.logger.Warn("reaped zombie graph session",
				slog.String("session", id),
				slog.String("space", s.space),
				slog.Duration("age", time.Since(s.started)))
		}
	}
	return reaped
}

func (m *sessionManager) reapLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

// withSession runs fn inside a leased session. The session is always
// released, including on error, so a failing query can never leak its
// slot.
func (s *Store) withSession(space string, fn func() error) error {
	sess, err := s.sessions.acquire(space)
	if err != nil {
		return err
	}
	defer s.sessions.release(sess)
	return fn()
}

// ActiveSessions reports the number of leased sessions.
func (s *Store) ActiveSessions() int {
	return s.sessions.count()
}
