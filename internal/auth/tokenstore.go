package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dallinjm/coursepulse/internal/ingest"
	"github.com/dallinjm/coursepulse/internal/session"
)

// TokenStore keeps the personal access token for a token-authenticated
// source. The token is persisted to a JSON file so the connection survives
// restarts, and a token session is seeded into the session store whenever a
// token is present.
type TokenStore struct {
	mu       sync.Mutex
	path     string
	source   string
	token    string
	userName string

	sessions    *session.Store
	makeSession func(token string) ingest.Session
	log         *slog.Logger
}

type tokenFile struct {
	Token    string `json:"token"`
	UserName string `json:"user_name"`
}

// NewTokenStore loads any persisted token from path and, if one exists,
// restores its session into the session store.
func NewTokenStore(path, source string, sessions *session.Store, makeSession func(string) ingest.Session, log *slog.Logger) *TokenStore {
	s := &TokenStore{
		path:        path,
		source:      source,
		sessions:    sessions,
		makeSession: makeSession,
		log:         log,
	}
	s.load()
	return s
}

func (s *TokenStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil || f.Token == "" {
		return
	}
	s.token = f.Token
	s.userName = f.UserName
	s.sessions.Put(s.source, s.makeSession(f.Token), nil)
	s.log.Info("restored token session", "source", s.source, "user", f.UserName)
}

// Set stores a token that the caller has already validated.
func (s *TokenStore) Set(token, userName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.userName = userName
	s.sessions.Put(s.source, s.makeSession(token), nil)

	data, err := json.Marshal(tokenFile{Token: token, UserName: userName})
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

// Clear forgets the token and invalidates its session.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.userName = ""
	s.sessions.Invalidate(s.source)
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("could not remove token file", "path", s.path, "error", err)
	}
}

// Connected reports whether a token is stored.
func (s *TokenStore) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

// UserName returns the display name recorded when the token was validated.
func (s *TokenStore) UserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userName
}
