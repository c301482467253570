// Package store persists assignments and sync summaries. The sync core talks
// to the RecordStore interface; the gorm implementation backs production and
// the memory implementation backs tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dallinjm/coursepulse/internal/model"
)

var ErrNotFound = errors.New("record not found")

// ListOptions narrows List. ExcludePastSubmitted drops submitted items whose
// due date has already passed, which is what the dashboard asks for.
type ListOptions struct {
	ExcludePastSubmitted bool
	Now                  time.Time
}

// AssignmentUpdate carries a user edit. Nil fields are left untouched; the
// Clear flags reset a planning field that the user blanked out.
type AssignmentUpdate struct {
	Status           *model.WorkflowStatus
	EstimatedMinutes *int
	PlannedStart     *time.Time
	PlannedEnd       *time.Time
	Notes            *string

	ClearPlannedStart bool
	ClearPlannedEnd   bool
	ClearNotes        bool
}

// Empty reports whether the update would change nothing.
func (u AssignmentUpdate) Empty() bool {
	return u.Status == nil && u.EstimatedMinutes == nil &&
		u.PlannedStart == nil && u.PlannedEnd == nil && u.Notes == nil &&
		!u.ClearPlannedStart && !u.ClearPlannedEnd && !u.ClearNotes
}

// RecordStore is the narrow persistence surface the sync core reads and
// writes. Reconciliation writes are column-scoped: they never touch the
// workflow status (outside MarkUnavailable) or the planning fields, so user
// edits and a running sync cannot clobber each other.
type RecordStore interface {
	// FindByKey looks an assignment up by its sync key within a source.
	FindByKey(ctx context.Context, source, syncKey string) (*model.Assignment, error)

	// Upsert inserts the assignment when its ID is empty, otherwise updates
	// the scraped content columns of the existing row.
	Upsert(ctx context.Context, a *model.Assignment) error

	// MarkUnavailable soft-removes every record of (source, course) whose
	// sync key is not in keepKeys, except records already submitted or
	// already unavailable. Returns the number of rows transitioned.
	MarkUnavailable(ctx context.Context, source, course string, keepKeys []string) (int64, error)

	// Transaction runs fn against a store whose writes commit atomically,
	// one call per course batch.
	Transaction(ctx context.Context, fn func(RecordStore) error) error

	GetByID(ctx context.Context, id string) (*model.Assignment, error)
	List(ctx context.Context, opts ListOptions) ([]model.Assignment, error)

	// UpdateAssignment applies a user edit to the workflow/planning columns
	// only and returns the updated row.
	UpdateAssignment(ctx context.Context, id string, upd AssignmentUpdate) (*model.Assignment, error)

	SaveSyncRecord(ctx context.Context, rec *model.SyncRecord) error
	LastSyncRecord(ctx context.Context) (*model.SyncRecord, error)
}
