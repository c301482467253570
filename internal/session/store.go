// Package session holds the one live authenticated session per source.
// Ownership is explicit: the store owns every handle it is given, and a Put
// for a source that already has a session is a deliberate replace.
package session

import (
	"sync"
	"time"

	"github.com/dallinjm/coursepulse/internal/ingest"
)

type entry struct {
	sess          ingest.Session
	establishedAt time.Time
	expiresAt     *time.Time
}

// Store is a synchronized per-source session holder.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]entry
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]entry),
		now:      time.Now,
	}
}

// Get returns the live session for a source, or false when there is none or
// the stored one has passed its expiry hint. Expired entries are left in
// place; the next Put replaces them.
func (s *Store) Get(source string) (ingest.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[source]
	if !ok {
		return nil, false
	}
	if e.expiresAt != nil && !s.now().Before(*e.expiresAt) {
		return nil, false
	}
	return e.sess, true
}

// Put installs a session for a source, replacing any existing one.
// Re-authentication supersedes; replacing is never an error.
func (s *Store) Put(source string, sess ingest.Session, expiresAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[source] = entry{
		sess:          sess,
		establishedAt: s.now(),
		expiresAt:     expiresAt,
	}
}

// Invalidate drops the session for a source, if any.
func (s *Store) Invalidate(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, source)
}

// EstablishedAt reports when the current session for a source was stored.
func (s *Store) EstablishedAt(source string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[source]
	if !ok {
		return time.Time{}, false
	}
	return e.establishedAt, true
}
