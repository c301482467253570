package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	source string
	tag    string
}

func (s stubSession) Source() string { return s.source }

func TestStorePutGet(t *testing.T) {
	s := NewStore()

	_, ok := s.Get("learningsuite")
	assert.False(t, ok)

	s.Put("learningsuite", stubSession{source: "learningsuite"}, nil)
	sess, ok := s.Get("learningsuite")
	require.True(t, ok)
	assert.Equal(t, "learningsuite", sess.Source())

	// Sources are independent slots.
	_, ok = s.Get("canvas")
	assert.False(t, ok)
}

func TestStoreReplace(t *testing.T) {
	s := NewStore()
	s.Put("canvas", stubSession{source: "canvas", tag: "old"}, nil)
	s.Put("canvas", stubSession{source: "canvas", tag: "new"}, nil)

	sess, ok := s.Get("canvas")
	require.True(t, ok)
	assert.Equal(t, "new", sess.(stubSession).tag)
}

func TestStoreInvalidate(t *testing.T) {
	s := NewStore()
	s.Put("learningsuite", stubSession{source: "learningsuite"}, nil)
	s.Invalidate("learningsuite")

	_, ok := s.Get("learningsuite")
	assert.False(t, ok)

	// Invalidating an empty slot is a no-op.
	s.Invalidate("learningsuite")
}

func TestStoreExpiryHint(t *testing.T) {
	s := NewStore()
	clock := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	exp := clock.Add(time.Hour)
	s.Put("canvas", stubSession{source: "canvas"}, &exp)

	_, ok := s.Get("canvas")
	assert.True(t, ok)

	clock = exp
	_, ok = s.Get("canvas")
	assert.False(t, ok, "a session at its expiry instant is no longer live")

	// A fresh Put supersedes the stale entry.
	s.Put("canvas", stubSession{source: "canvas"}, nil)
	_, ok = s.Get("canvas")
	assert.True(t, ok)
}

func TestStoreEstablishedAt(t *testing.T) {
	s := NewStore()
	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	_, ok := s.EstablishedAt("learningsuite")
	assert.False(t, ok)

	s.Put("learningsuite", stubSession{source: "learningsuite"}, nil)
	got, ok := s.EstablishedAt("learningsuite")
	require.True(t, ok)
	assert.Equal(t, at, got)
}
