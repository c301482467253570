// Package auth owns authentication state for the portals: the interactive
// login flow (pollable, human-paced) and the token-based connection.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dallinjm/coursepulse/internal/ingest"
	"github.com/dallinjm/coursepulse/internal/model"
	"github.com/dallinjm/coursepulse/internal/session"
)

var (
	ErrLoginInFlight = errors.New("login already in progress for this source")
	ErrUnknownSource = errors.New("no login agent registered for source")
	ErrTaskNotFound  = errors.New("login task not found")

	// ErrLoginTimeout and ErrLoginFailed are the causes a dependent sync
	// task reports when a flow it awaited did not authenticate.
	ErrLoginTimeout = errors.New("login timed out")
	ErrLoginFailed  = errors.New("login failed")
)

// DefaultTimeout bounds how long a flow may sit in waiting_for_login or
// waiting_for_mfa without the agent reporting a transition.
const DefaultTimeout = 5 * time.Minute

// Flow tracks interactive login attempts, one in flight per source. It only
// records what the agent reports; the handshake itself runs in the agent.
// On a successful handshake the resulting session goes into the session
// store and the flow task turns terminal.
type Flow struct {
	mu     sync.Mutex
	tasks  map[string]*model.LoginTask
	active map[string]string // source -> in-flight task id

	agents   map[string]ingest.LoginAgent
	sessions *session.Store
	log      *slog.Logger

	timeout time.Duration
	poll    time.Duration
	now     func() time.Time
}

func NewFlow(sessions *session.Store, log *slog.Logger, timeout, poll time.Duration) *Flow {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Flow{
		tasks:    make(map[string]*model.LoginTask),
		active:   make(map[string]string),
		agents:   make(map[string]ingest.LoginAgent),
		sessions: sessions,
		log:      log,
		timeout:  timeout,
		poll:     poll,
		now:      time.Now,
	}
}

// RegisterAgent wires the login agent for a source. Call during startup,
// before any Begin.
func (f *Flow) RegisterAgent(source string, agent ingest.LoginAgent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[source] = agent
}

// Begin starts a login flow for a source and returns its task id. A second
// Begin while one is still in flight is rejected, not queued.
func (f *Flow) Begin(source string) (string, error) {
	f.mu.Lock()
	agent, ok := f.agents[source]
	if !ok {
		f.mu.Unlock()
		return "", ErrUnknownSource
	}
	if id, ok := f.active[source]; ok {
		if t := f.tasks[id]; t != nil && !t.Status.Terminal() {
			f.mu.Unlock()
			return "", ErrLoginInFlight
		}
	}
	task := &model.LoginTask{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    model.LoginPending,
		StartedAt: f.now().UTC(),
	}
	f.tasks[task.ID] = task
	f.active[source] = task.ID
	f.mu.Unlock()

	go f.run(task.ID, source, agent)
	return task.ID, nil
}

// ActiveTask returns the id of the in-flight flow for a source, if any.
func (f *Flow) ActiveTask(source string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.active[source]
	if !ok {
		return "", false
	}
	t := f.tasks[id]
	if t == nil || t.Status.Terminal() {
		return "", false
	}
	return id, true
}

// Get returns a snapshot of a login task.
func (f *Flow) Get(id string) (model.LoginTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return model.LoginTask{}, ErrTaskNotFound
	}
	return *t, nil
}

// Await polls a flow until it is terminal or ctx is done.
func (f *Flow) Await(ctx context.Context, id string) (model.LoginTask, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		t, err := f.Get(id)
		if err != nil {
			return model.LoginTask{}, err
		}
		if t.Status.Terminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Prune drops terminal tasks that finished more than retention ago.
func (f *Flow) Prune(retention time.Duration) {
	cutoff := f.now().Add(-retention)
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, t := range f.tasks {
		if t.Status.Terminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			delete(f.tasks, id)
		}
	}
}

func (f *Flow) run(taskID, source string, agent ingest.LoginAgent) {
	ctx := context.Background()

	f.setStatus(taskID, model.LoginOpening, "")
	handle, err := agent.Begin(ctx)
	if err != nil {
		f.log.Error("login agent launch failed", "source", source, "error", err)
		f.finish(taskID, source, model.LoginFailed, err.Error())
		return
	}

	// The timeout window restarts on every observed transition, so a user
	// slow on credentials still gets the full window for MFA.
	lastTransition := f.now()
	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	for range ticker.C {
		if f.now().Sub(lastTransition) > f.timeout {
			if err := agent.Cancel(ctx, handle); err != nil {
				f.log.Warn("login agent cancel failed", "source", source, "error", err)
			}
			f.finish(taskID, source, model.LoginTimedOut, "login timed out, please try again")
			return
		}

		poll, err := agent.Poll(ctx, handle)
		if err != nil {
			// Agent hiccups are survivable; the timeout is the backstop.
			f.log.Warn("login agent poll failed", "source", source, "error", err)
			continue
		}

		switch poll.Phase {
		case ingest.PhaseWaitingForLogin:
			if f.setStatus(taskID, model.LoginWaitingForLogin, "") {
				lastTransition = f.now()
			}
		case ingest.PhaseWaitingForMFA:
			if f.setStatus(taskID, model.LoginWaitingForMFA, "") {
				lastTransition = f.now()
			}
		case ingest.PhaseAuthenticated:
			f.sessions.Put(source, poll.Session, nil)
			f.finish(taskID, source, model.LoginAuthenticated, "")
			f.log.Info("login authenticated", "source", source, "task", taskID)
			return
		case ingest.PhaseFailed:
			f.finish(taskID, source, model.LoginFailed, poll.Reason)
			return
		}
	}
}

// setStatus advances a non-terminal task and reports whether the status
// actually changed. The walk is forward-only: waiting_for_mfa never falls
// back to waiting_for_login.
func (f *Flow) setStatus(taskID string, status model.LoginStatus, errMsg string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.Status.Terminal() || t.Status == status {
		return false
	}
	if t.Status == model.LoginWaitingForMFA && status == model.LoginWaitingForLogin {
		return false
	}
	t.Status = status
	if errMsg != "" {
		t.Error = errMsg
	}
	return true
}

func (f *Flow) finish(taskID, source string, status model.LoginStatus, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.Status.Terminal() {
		return
	}
	t.Status = status
	t.Error = errMsg
	now := f.now().UTC()
	t.FinishedAt = &now
	if f.active[source] == taskID {
		delete(f.active, source)
	}
}
