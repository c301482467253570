package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dallinjm/coursepulse/internal/model"
)

func seed(t *testing.T, s *Memory, a model.Assignment) string {
	t.Helper()
	require.NoError(t, s.Upsert(context.Background(), &a))
	return a.ID
}

func TestUpsertInsertAssignsID(t *testing.T) {
	s := NewMemory()
	a := model.Assignment{
		Source:  "canvas",
		SyncKey: "ext:101",
		Title:   "Lab 1",
		Status:  model.StatusNewlyAssigned,
	}
	require.NoError(t, s.Upsert(context.Background(), &a))
	require.NotEmpty(t, a.ID)

	got, err := s.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lab 1", got.Title)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestUpsertUpdateIsColumnScoped(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	est := 90
	id := seed(t, s, model.Assignment{
		Source:           "canvas",
		SyncKey:          "ext:101",
		Title:            "Lab 1",
		CourseName:       "Physics",
		Status:           model.StatusInProgress,
		EstimatedMinutes: &est,
	})

	// An update carries only scraped content; stale status and planning
	// values on the struct must not leak through.
	upd := model.Assignment{
		ID:            id,
		Title:         "Lab 1 (revised)",
		CourseName:    "Physics",
		IsModified:    true,
		LastScrapedAt: time.Now().UTC(),
		Status:        model.StatusNewlyAssigned,
	}
	require.NoError(t, s.Upsert(ctx, &upd))

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Lab 1 (revised)", got.Title)
	assert.True(t, got.IsModified)
	assert.Equal(t, model.StatusInProgress, got.Status)
	require.NotNil(t, got.EstimatedMinutes)
	assert.Equal(t, 90, *got.EstimatedMinutes)
}

func TestUpsertUpdateUnknownID(t *testing.T) {
	s := NewMemory()
	err := s.Upsert(context.Background(), &model.Assignment{ID: "missing", Title: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByKey(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seed(t, s, model.Assignment{Source: "canvas", SyncKey: "ext:101", Title: "Lab 1"})
	seed(t, s, model.Assignment{Source: "learningsuite", SyncKey: "ext:101", Title: "Quiz 1"})

	got, err := s.FindByKey(ctx, "learningsuite", "ext:101")
	require.NoError(t, err)
	assert.Equal(t, "Quiz 1", got.Title, "the same key under another source is a different record")

	_, err = s.FindByKey(ctx, "canvas", "ext:999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkUnavailable(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	gone := seed(t, s, model.Assignment{Source: "canvas", SyncKey: "ext:1", CourseName: "Physics", Status: model.StatusNotStarted})
	kept := seed(t, s, model.Assignment{Source: "canvas", SyncKey: "ext:2", CourseName: "Physics", Status: model.StatusInProgress})
	submitted := seed(t, s, model.Assignment{Source: "canvas", SyncKey: "ext:3", CourseName: "Physics", Status: model.StatusSubmitted})
	already := seed(t, s, model.Assignment{Source: "canvas", SyncKey: "ext:4", CourseName: "Physics", Status: model.StatusUnavailable})
	otherCourse := seed(t, s, model.Assignment{Source: "canvas", SyncKey: "ext:5", CourseName: "Chemistry", Status: model.StatusNotStarted})

	n, err := s.MarkUnavailable(ctx, "canvas", "Physics", []string{"ext:2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the vanished non-submitted record is touched")

	for id, want := range map[string]model.WorkflowStatus{
		gone:        model.StatusUnavailable,
		kept:        model.StatusInProgress,
		submitted:   model.StatusSubmitted,
		already:     model.StatusUnavailable,
		otherCourse: model.StatusNotStarted,
	} {
		got, err := s.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}
}

func TestListOrdersByDueDateNilsLast(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	early := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	seed(t, s, model.Assignment{Source: "canvas", SyncKey: "ext:1", Title: "no due date"})
	seed(t, s, model.Assignment{Source: "canvas", SyncKey: "ext:2", Title: "late", DueDate: &late})
	seed(t, s, model.Assignment{Source: "canvas", SyncKey: "ext:3", Title: "early", DueDate: &early})

	out, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "early", out[0].Title)
	assert.Equal(t, "late", out[1].Title)
	assert.Equal(t, "no due date", out[2].Title)
}

func TestListExcludePastSubmitted(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)

	seed(t, s, model.Assignment{Source: "canvas", SyncKey: "ext:1", Title: "done and gone", Status: model.StatusSubmitted, DueDate: &past})
	seed(t, s, model.Assignment{Source: "canvas", SyncKey: "ext:2", Title: "done, still due", Status: model.StatusSubmitted, DueDate: &future})
	seed(t, s, model.Assignment{Source: "canvas", SyncKey: "ext:3", Title: "overdue, not done", Status: model.StatusInProgress, DueDate: &past})

	out, err := s.List(ctx, ListOptions{ExcludePastSubmitted: true, Now: now})
	require.NoError(t, err)
	titles := make([]string, 0, len(out))
	for _, a := range out {
		titles = append(titles, a.Title)
	}
	assert.ElementsMatch(t, []string{"done, still due", "overdue, not done"}, titles)
}

func TestUpdateAssignmentPartialAndClear(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	est := 60
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	id := seed(t, s, model.Assignment{
		Source:           "canvas",
		SyncKey:          "ext:1",
		Title:            "Essay",
		Status:           model.StatusNotStarted,
		EstimatedMinutes: &est,
		PlannedStart:     &start,
	})

	status := model.StatusInProgress
	got, err := s.UpdateAssignment(ctx, id, AssignmentUpdate{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, got.Status)
	require.NotNil(t, got.EstimatedMinutes, "untouched fields survive a partial update")
	require.NotNil(t, got.PlannedStart)

	got, err = s.UpdateAssignment(ctx, id, AssignmentUpdate{ClearPlannedStart: true, ClearNotes: true})
	require.NoError(t, err)
	assert.Nil(t, got.PlannedStart)
	assert.Equal(t, model.StatusInProgress, got.Status)

	_, err = s.UpdateAssignment(ctx, "missing", AssignmentUpdate{Status: &status})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncRecords(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_, err := s.LastSyncRecord(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	older := model.SyncRecord{LastSyncAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Status: "completed"}
	newer := model.SyncRecord{LastSyncAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Status: "failed"}
	require.NoError(t, s.SaveSyncRecord(ctx, &older))
	require.NoError(t, s.SaveSyncRecord(ctx, &newer))

	got, err := s.LastSyncRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status, "the most recent run wins regardless of outcome")
}

func TestAssignmentUpdateEmpty(t *testing.T) {
	assert.True(t, AssignmentUpdate{}.Empty())
	status := model.StatusSubmitted
	assert.False(t, AssignmentUpdate{Status: &status}.Empty())
	assert.False(t, AssignmentUpdate{ClearNotes: true}.Empty())
}
