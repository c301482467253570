// Package syncmgr owns the background sync lifecycle: the task registry that
// polling clients read, and the single-worker orchestration that walks a sync
// from session checks through scraping to reconciliation.
package syncmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dallinjm/coursepulse/internal/auth"
	"github.com/dallinjm/coursepulse/internal/ingest"
	"github.com/dallinjm/coursepulse/internal/model"
	"github.com/dallinjm/coursepulse/internal/reconcile"
	"github.com/dallinjm/coursepulse/internal/session"
	"github.com/dallinjm/coursepulse/internal/store"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrTaskNotFound   = errors.New("sync task not found")
)

// Source describes one configured portal from the orchestrator's point of
// view. Interactive sources are hard dependencies: if their login cannot be
// completed the whole sync fails. Optional sources are skipped when no
// session is available.
type Source struct {
	Name        string
	Interactive bool
	Optional    bool
}

// Manager is the task registry plus the orchestrator. All task mutation
// happens on the single background goroutine a sync runs on; every other
// caller gets copies.
type Manager struct {
	mu        sync.Mutex
	tasks     map[string]*model.SyncTask
	currentID string

	sources  []Source
	clients  map[string]ingest.CourseClient
	sessions *session.Store
	flow     *auth.Flow
	engine   *reconcile.Engine
	store    store.RecordStore
	log      *slog.Logger
	now      func() time.Time
}

func NewManager(sources []Source, clients map[string]ingest.CourseClient, sessions *session.Store, flow *auth.Flow, engine *reconcile.Engine, st store.RecordStore, log *slog.Logger) *Manager {
	return &Manager{
		tasks:    make(map[string]*model.SyncTask),
		sources:  sources,
		clients:  clients,
		sessions: sessions,
		flow:     flow,
		engine:   engine,
		store:    st,
		log:      log,
		now:      time.Now,
	}
}

// StartSync creates a sync task and hands it to a background goroutine.
// At most one task may be non-terminal at a time; a concurrent start is
// rejected rather than queued.
func (m *Manager) StartSync() (string, error) {
	m.mu.Lock()
	if m.currentID != "" {
		if cur := m.tasks[m.currentID]; cur != nil && !cur.Status.Terminal() {
			m.mu.Unlock()
			return "", ErrSyncInProgress
		}
	}
	task := &model.SyncTask{
		ID:        uuid.New().String(),
		Status:    model.SyncPending,
		Message:   "Initializing sync...",
		StartedAt: m.now().UTC(),
	}
	m.tasks[task.ID] = task
	m.currentID = task.ID
	m.mu.Unlock()

	go m.run(task.ID)
	return task.ID, nil
}

// Get returns a snapshot of a task.
func (m *Manager) Get(id string) (model.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.SyncTask{}, ErrTaskNotFound
	}
	cp := *t
	cp.CourseErrors = append([]string(nil), t.CourseErrors...)
	return cp, nil
}

// Prune evicts terminal tasks that finished more than retention ago.
func (m *Manager) Prune(retention time.Duration) {
	cutoff := m.now().Add(-retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		if t.Status.Terminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			if id == m.currentID {
				m.currentID = ""
			}
			delete(m.tasks, id)
		}
	}
}

type courseBatch struct {
	source string
	course string
	items  []ingest.ScrapedAssignment
}

type authedSource struct {
	src  Source
	sess ingest.Session
}

func (m *Manager) run(id string) {
	ctx := context.Background()
	m.log.Info("sync started", "task", id)

	authed, ok := m.checkSessions(ctx, id)
	if !ok {
		return
	}
	if len(authed) == 0 {
		m.fail(ctx, id, errors.New("no authenticated sources, sign in first"))
		return
	}

	batches, ok := m.scrape(ctx, id, authed)
	if !ok {
		return
	}

	m.setStatus(id, model.SyncUpdatingDB, "Saving scraped assignments...")
	for _, b := range batches {
		res, err := m.engine.Reconcile(ctx, b.source, b.course, b.items)
		if err != nil {
			// A store-write failure means data integrity can no longer be
			// guaranteed; already-committed course batches stay committed.
			m.fail(ctx, id, err)
			return
		}
		m.addCounts(id, res)
	}

	m.complete(ctx, id)
}

// checkSessions resolves a live session per configured source, triggering
// and awaiting an interactive login where necessary. Returns ok=false when
// the task has been failed.
func (m *Manager) checkSessions(ctx context.Context, id string) ([]authedSource, bool) {
	m.setStatus(id, model.SyncCheckingSession, "Checking authentication...")

	var authed []authedSource
	for _, src := range m.sources {
		sess, ok := m.sessions.Get(src.Name)
		if !ok && src.Interactive {
			sess, ok = m.awaitLogin(ctx, id, src.Name)
			if !ok {
				return nil, false
			}
		}
		if sess == nil {
			if src.Optional {
				m.log.Info("source skipped, not connected", "task", id, "source", src.Name)
				continue
			}
			m.fail(ctx, id, fmt.Errorf("source %s is not authenticated", src.Name))
			return nil, false
		}
		authed = append(authed, authedSource{src: src, sess: sess})
	}
	return authed, true
}

// awaitLogin drives an interactive login for a source and blocks this sync's
// goroutine until the flow turns terminal. Pollers see the sync as
// waiting_for_mfa the whole time. Returns ok=false when the task was failed.
func (m *Manager) awaitLogin(ctx context.Context, id, source string) (ingest.Session, bool) {
	loginID, err := m.flow.Begin(source)
	if errors.Is(err, auth.ErrLoginInFlight) {
		// A user-initiated flow is already running; ride along on it.
		loginID, _ = m.flow.ActiveTask(source)
	} else if err != nil {
		m.fail(ctx, id, fmt.Errorf("start login for %s: %w", source, err))
		return nil, false
	}
	if loginID == "" {
		m.fail(ctx, id, fmt.Errorf("start login for %s: %w", source, auth.ErrLoginFailed))
		return nil, false
	}

	m.setStatus(id, model.SyncWaitingForMFA, "Waiting for sign-in and MFA confirmation...")
	lt, err := m.flow.Await(ctx, loginID)
	if err != nil {
		m.fail(ctx, id, fmt.Errorf("await login for %s: %w", source, err))
		return nil, false
	}

	switch lt.Status {
	case model.LoginAuthenticated:
		sess, ok := m.sessions.Get(source)
		if !ok {
			m.fail(ctx, id, fmt.Errorf("login for %s completed without a session", source))
			return nil, false
		}
		return sess, true
	case model.LoginTimedOut:
		m.fail(ctx, id, fmt.Errorf("%s: %w", source, auth.ErrLoginTimeout))
	default:
		if lt.Error != "" {
			m.fail(ctx, id, fmt.Errorf("%s: %w: %s", source, auth.ErrLoginFailed, lt.Error))
		} else {
			m.fail(ctx, id, fmt.Errorf("%s: %w", source, auth.ErrLoginFailed))
		}
	}
	return nil, false
}

// scrape enumerates courses across all authenticated sources and collects
// one batch per successfully fetched course. Per-course failures are
// recorded on the task and skipped; an auth-invalid response invalidates the
// session and fails the task. Returns ok=false when the task was failed.
func (m *Manager) scrape(ctx context.Context, id string, authed []authedSource) ([]courseBatch, bool) {
	m.setStatus(id, model.SyncScraping, "Scraping assignments from courses...")

	type roster struct {
		as      authedSource
		courses []ingest.Course
	}
	var rosters []roster
	total := 0
	for _, as := range authed {
		client, ok := m.clients[as.src.Name]
		if !ok {
			m.fail(ctx, id, fmt.Errorf("no course client for source %s", as.src.Name))
			return nil, false
		}
		courses, err := client.ListCourses(ctx, as.sess)
		if err != nil {
			if errors.Is(err, ingest.ErrAuthInvalid) {
				m.sessions.Invalidate(as.src.Name)
				m.fail(ctx, id, fmt.Errorf("session for %s expired: %w", as.src.Name, err))
				return nil, false
			}
			m.addCourseError(id, fmt.Sprintf("%s: course listing failed: %v", as.src.Name, err))
			continue
		}
		rosters = append(rosters, roster{as: as, courses: courses})
		total += len(courses)
	}
	m.setTotal(id, total)

	var batches []courseBatch
	idx := 0
	for _, r := range rosters {
		client := m.clients[r.as.src.Name]
		for _, course := range r.courses {
			idx++
			m.progress(id, idx, course.Name)

			items, err := client.FetchAssignments(ctx, r.as.sess, course)
			if err != nil {
				if errors.Is(err, ingest.ErrAuthInvalid) {
					m.sessions.Invalidate(r.as.src.Name)
					m.fail(ctx, id, fmt.Errorf("session for %s expired: %w", r.as.src.Name, err))
					return nil, false
				}
				// Soft failure: the next sync cycle is the retry. The course
				// also gets no mark-unavailable pass, since absence cannot be
				// distinguished from the fetch failing.
				m.addCourseError(id, fmt.Sprintf("%s/%s: %v", r.as.src.Name, course.Name, err))
				m.log.Warn("course ingestion failed", "task", id, "source", r.as.src.Name, "course", course.Name, "error", err)
				continue
			}
			batches = append(batches, courseBatch{source: r.as.src.Name, course: course.Name, items: items})
		}
	}
	return batches, true
}

// --- registry mutation helpers; all guard against terminal tasks ---

func (m *Manager) setStatus(id string, status model.SyncStatus, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status.Terminal() {
		return
	}
	t.Status = status
	t.Message = msg
	m.log.Info("sync status", "task", shortID(id), "status", status)
}

func (m *Manager) setTotal(id string, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok && !t.Status.Terminal() {
		t.TotalCourses = total
	}
}

func (m *Manager) progress(id string, current int, courseName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status.Terminal() {
		return
	}
	t.CurrentCourse = current
	t.CurrentCourseName = courseName
	t.Message = fmt.Sprintf("Scraping %s (%d/%d)...", courseName, current, t.TotalCourses)
}

func (m *Manager) addCourseError(id, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok && !t.Status.Terminal() {
		t.CourseErrors = append(t.CourseErrors, msg)
	}
}

func (m *Manager) addCounts(id string, res reconcile.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status.Terminal() {
		return
	}
	t.AssignmentsAdded += res.Added
	t.AssignmentsUpdated += res.Updated
	t.CoursesScraped++
	t.Message = fmt.Sprintf("Saved %d courses...", t.CoursesScraped)
}

func (m *Manager) complete(ctx context.Context, id string) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	t.Status = model.SyncCompleted
	now := m.now().UTC()
	t.FinishedAt = &now
	t.Message = fmt.Sprintf("Sync complete! %d new, %d updated from %d courses.",
		t.AssignmentsAdded, t.AssignmentsUpdated, t.CoursesScraped)
	snapshot := *t
	if m.currentID == id {
		m.currentID = ""
	}
	m.mu.Unlock()

	m.log.Info("sync completed", "task", shortID(id),
		"added", snapshot.AssignmentsAdded, "updated", snapshot.AssignmentsUpdated,
		"courses", snapshot.CoursesScraped)
	m.persistRecord(ctx, snapshot)
}

func (m *Manager) fail(ctx context.Context, id string, cause error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	t.Status = model.SyncFailed
	t.Error = cause.Error()
	t.Message = "Sync failed: " + cause.Error()
	now := m.now().UTC()
	t.FinishedAt = &now
	snapshot := *t
	if m.currentID == id {
		m.currentID = ""
	}
	m.mu.Unlock()

	m.log.Error("sync failed", "task", shortID(id), "error", cause)
	m.persistRecord(ctx, snapshot)
}

// persistRecord writes the terminal summary row that /sync/last serves, so
// the outcome survives a restart even though the live task does not.
func (m *Manager) persistRecord(ctx context.Context, t model.SyncTask) {
	summary, err := json.Marshal(model.SyncSummary{
		CoursesScraped:     t.CoursesScraped,
		AssignmentsAdded:   t.AssignmentsAdded,
		AssignmentsUpdated: t.AssignmentsUpdated,
	})
	if err != nil {
		m.log.Error("marshal sync summary", "error", err)
		return
	}
	rec := &model.SyncRecord{
		TaskID:     t.ID,
		LastSyncAt: m.now().UTC(),
		Status:     string(t.Status),
		Summary:    summary,
	}
	if t.Error != "" {
		e := t.Error
		rec.Error = &e
	}
	if err := m.store.SaveSyncRecord(ctx, rec); err != nil {
		m.log.Error("save sync record", "task", shortID(t.ID), "error", err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
