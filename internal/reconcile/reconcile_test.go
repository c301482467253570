package reconcile

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dallinjm/coursepulse/internal/ingest"
	"github.com/dallinjm/coursepulse/internal/model"
	"github.com/dallinjm/coursepulse/internal/store"
)

func testEngine(t *testing.T) (*Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	eng := NewEngine(mem, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return eng, mem
}

func scraped(id, title string, due *time.Time) ingest.ScrapedAssignment {
	return ingest.ScrapedAssignment{
		ExternalID:     id,
		Title:          title,
		CourseName:     "CS 142",
		DueDate:        due,
		Description:    "Do the thing",
		Link:           "https://portal.example/a/" + id,
		AssignmentType: "homework",
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestReconcileFirstScrapeInsertsAll(t *testing.T) {
	eng, mem := testEngine(t)
	ctx := context.Background()

	items := []ingest.ScrapedAssignment{
		scraped("1", "Homework 1", timePtr(time.Date(2026, 9, 5, 23, 59, 0, 0, time.UTC))),
		scraped("2", "Homework 2", nil),
		scraped("3", "Midterm Review", nil),
	}
	res, err := eng.Reconcile(ctx, "learningsuite", "CS 142", items)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 0, res.Unavailable)

	rec, err := mem.FindByKey(ctx, "learningsuite", "ext:1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNewlyAssigned, rec.Status)
	assert.False(t, rec.IsModified)
	assert.False(t, rec.LastScrapedAt.IsZero())
}

func TestReconcileRescrapeCountsChangedMissingUnchanged(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	due := timePtr(time.Date(2026, 9, 5, 23, 59, 0, 0, time.UTC))
	first := []ingest.ScrapedAssignment{
		scraped("1", "Homework 1", due),
		scraped("2", "Homework 2", nil),
		scraped("3", "Midterm Review", nil),
	}
	_, err := eng.Reconcile(ctx, "learningsuite", "CS 142", first)
	require.NoError(t, err)

	// Homework 1 gets a new due date, Midterm Review disappears,
	// Homework 2 is unchanged.
	second := []ingest.ScrapedAssignment{
		scraped("1", "Homework 1", timePtr(time.Date(2026, 9, 12, 23, 59, 0, 0, time.UTC))),
		scraped("2", "Homework 2", nil),
	}
	res, err := eng.Reconcile(ctx, "learningsuite", "CS 142", second)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Unavailable)
}

func TestReconcileIdempotentExceptRecency(t *testing.T) {
	eng, mem := testEngine(t)
	ctx := context.Background()

	items := []ingest.ScrapedAssignment{scraped("1", "Homework 1", nil)}
	_, err := eng.Reconcile(ctx, "learningsuite", "CS 142", items)
	require.NoError(t, err)

	before, err := mem.FindByKey(ctx, "learningsuite", "ext:1")
	require.NoError(t, err)

	// Pin the engine clock forward so the recency refresh is observable.
	eng.now = func() time.Time { return before.LastScrapedAt.Add(time.Hour) }

	res, err := eng.Reconcile(ctx, "learningsuite", "CS 142", items)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 0, res.Updated)

	after, err := mem.FindByKey(ctx, "learningsuite", "ext:1")
	require.NoError(t, err)
	assert.False(t, after.IsModified, "no content change, no modified flag")
	assert.True(t, after.LastScrapedAt.After(before.LastScrapedAt), "last_scraped_at always refreshes")
	assert.Equal(t, before.Title, after.Title)
	assert.Equal(t, before.Description, after.Description)
	assert.Equal(t, before.Link, after.Link)
}

func TestReconcileChangeSetsModifiedButNotStatus(t *testing.T) {
	eng, mem := testEngine(t)
	ctx := context.Background()

	_, err := eng.Reconcile(ctx, "learningsuite", "CS 142",
		[]ingest.ScrapedAssignment{scraped("1", "Homework 1", nil)})
	require.NoError(t, err)

	rec, err := mem.FindByKey(ctx, "learningsuite", "ext:1")
	require.NoError(t, err)

	// User starts working on it and plans it out.
	inProgress := model.StatusInProgress
	minutes := 90
	_, err = mem.UpdateAssignment(ctx, rec.ID, store.AssignmentUpdate{
		Status:           &inProgress,
		EstimatedMinutes: &minutes,
	})
	require.NoError(t, err)

	changed := scraped("1", "Homework 1", nil)
	changed.Description = "Do the other thing"
	res, err := eng.Reconcile(ctx, "learningsuite", "CS 142",
		[]ingest.ScrapedAssignment{changed})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	after, err := mem.FindByKey(ctx, "learningsuite", "ext:1")
	require.NoError(t, err)
	assert.Equal(t, "Do the other thing", after.Description)
	assert.True(t, after.IsModified)
	assert.Equal(t, model.StatusInProgress, after.Status, "workflow status belongs to the user")
	require.NotNil(t, after.EstimatedMinutes)
	assert.Equal(t, 90, *after.EstimatedMinutes, "planning fields untouched by sync")
}

func TestReconcileSubmittedSurvivesDisappearance(t *testing.T) {
	eng, mem := testEngine(t)
	ctx := context.Background()

	_, err := eng.Reconcile(ctx, "learningsuite", "CS 142",
		[]ingest.ScrapedAssignment{scraped("1", "Homework 1", nil)})
	require.NoError(t, err)

	rec, err := mem.FindByKey(ctx, "learningsuite", "ext:1")
	require.NoError(t, err)
	submitted := model.StatusSubmitted
	_, err = mem.UpdateAssignment(ctx, rec.ID, store.AssignmentUpdate{Status: &submitted})
	require.NoError(t, err)

	// Portal drops the listing entirely.
	res, err := eng.Reconcile(ctx, "learningsuite", "CS 142", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Unavailable)

	after, err := mem.FindByKey(ctx, "learningsuite", "ext:1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, after.Status)
}

func TestReconcileOtherCoursesUnaffected(t *testing.T) {
	eng, mem := testEngine(t)
	ctx := context.Background()

	cs := scraped("1", "Homework 1", nil)
	math := scraped("2", "Problem Set 1", nil)
	math.CourseName = "MATH 290"
	_, err := eng.Reconcile(ctx, "learningsuite", "CS 142", []ingest.ScrapedAssignment{cs})
	require.NoError(t, err)
	_, err = eng.Reconcile(ctx, "learningsuite", "MATH 290", []ingest.ScrapedAssignment{math})
	require.NoError(t, err)

	// CS 142 vanishes from the roster; MATH 290 must not be touched.
	res, err := eng.Reconcile(ctx, "learningsuite", "CS 142", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unavailable)

	mathRec, err := mem.FindByKey(ctx, "learningsuite", "ext:2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNewlyAssigned, mathRec.Status)
}

func TestReconcileNaturalKeyFallback(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	// No external id: the normalized title is the identity.
	a := ingest.ScrapedAssignment{Title: "Homework &amp; Lab  1 ", CourseName: "CS 142"}
	_, err := eng.Reconcile(ctx, "learningsuite", "CS 142", []ingest.ScrapedAssignment{a})
	require.NoError(t, err)

	b := ingest.ScrapedAssignment{Title: "homework & lab 1", CourseName: "CS 142"}
	res, err := eng.Reconcile(ctx, "learningsuite", "CS 142", []ingest.ScrapedAssignment{b})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added, "normalized titles must match the same record")
	assert.Equal(t, 0, res.Unavailable)
}

func TestReconcileDuplicateListingsCollapse(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	items := []ingest.ScrapedAssignment{
		scraped("1", "Homework 1", nil),
		scraped("1", "Homework 1", nil),
	}
	res, err := eng.Reconcile(ctx, "learningsuite", "CS 142", items)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
}

func TestNaturalKey(t *testing.T) {
	tests := []struct {
		name string
		item ingest.ScrapedAssignment
		want string
	}{
		{
			name: "external id wins",
			item: ingest.ScrapedAssignment{ExternalID: "42", Title: "Whatever", CourseName: "CS 142"},
			want: "ext:42",
		},
		{
			name: "fallback normalizes title and course",
			item: ingest.ScrapedAssignment{Title: "  Final   Project ", CourseName: "CS 142"},
			want: "nat:cs 142/final project",
		},
		{
			name: "entities unescaped",
			item: ingest.ScrapedAssignment{Title: "Lab &amp; Report", CourseName: "CHEM 105"},
			want: "nat:chem 105/lab & report",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NaturalKey(tt.item))
		})
	}
}
