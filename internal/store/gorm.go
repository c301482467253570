package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dallinjm/coursepulse/internal/model"
)

// scrapedColumns are the columns reconciliation is allowed to write on an
// existing row. Workflow status and planning fields are deliberately absent.
var scrapedColumns = []string{
	"title", "course_name", "due_date", "description", "link",
	"assignment_type", "point_value", "external_id",
	"is_modified", "last_scraped_at", "updated_at",
}

// Gorm is the postgres-backed RecordStore.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// Migrate creates the assignments and sync_metadata tables.
func (s *Gorm) Migrate() error {
	return s.db.AutoMigrate(&model.Assignment{}, &model.SyncRecord{})
}

func (s *Gorm) FindByKey(ctx context.Context, source, syncKey string) (*model.Assignment, error) {
	var a model.Assignment
	err := s.db.WithContext(ctx).
		Where("source = ? AND sync_key = ?", source, syncKey).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	return &a, nil
}

func (s *Gorm) Upsert(ctx context.Context, a *model.Assignment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
		if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&model.Assignment{}).
		Where("id = ?", a.ID).
		Select(scrapedColumns).
		Updates(a).Error
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	return nil
}

func (s *Gorm) MarkUnavailable(ctx context.Context, source, course string, keepKeys []string) (int64, error) {
	q := s.db.WithContext(ctx).
		Model(&model.Assignment{}).
		Where("source = ? AND course_name = ?", source, course).
		Where("status NOT IN ?", []model.WorkflowStatus{model.StatusSubmitted, model.StatusUnavailable})
	if len(keepKeys) > 0 {
		q = q.Where("sync_key NOT IN ?", keepKeys)
	}
	res := q.Updates(map[string]any{
		"status":     model.StatusUnavailable,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return 0, fmt.Errorf("mark unavailable: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Gorm) Transaction(ctx context.Context, fn func(RecordStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{db: tx})
	})
}

func (s *Gorm) GetByID(ctx context.Context, id string) (*model.Assignment, error) {
	var a model.Assignment
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return &a, nil
}

func (s *Gorm) List(ctx context.Context, opts ListOptions) ([]model.Assignment, error) {
	q := s.db.WithContext(ctx).Model(&model.Assignment{})
	if opts.ExcludePastSubmitted {
		now := opts.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		q = q.Where("status <> ? OR due_date >= ?", model.StatusSubmitted, now)
	}
	var out []model.Assignment
	if err := q.Order("due_date ASC NULLS LAST").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return out, nil
}

func (s *Gorm) UpdateAssignment(ctx context.Context, id string, upd AssignmentUpdate) (*model.Assignment, error) {
	values := planningValues(upd)
	if len(values) == 0 {
		return s.GetByID(ctx, id)
	}
	res := s.db.WithContext(ctx).
		Model(&model.Assignment{}).
		Where("id = ?", id).
		Updates(values)
	if res.Error != nil {
		return nil, fmt.Errorf("update assignment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// planningValues builds the column map for a user edit. Only workflow status
// and planning columns ever appear here.
func planningValues(upd AssignmentUpdate) map[string]any {
	values := map[string]any{}
	if upd.Status != nil {
		values["status"] = *upd.Status
	}
	if upd.EstimatedMinutes != nil {
		values["estimated_minutes"] = *upd.EstimatedMinutes
	}
	if upd.PlannedStart != nil {
		values["planned_start"] = *upd.PlannedStart
	}
	if upd.PlannedEnd != nil {
		values["planned_end"] = *upd.PlannedEnd
	}
	if upd.Notes != nil {
		values["notes"] = *upd.Notes
	}
	if upd.ClearPlannedStart {
		values["planned_start"] = nil
	}
	if upd.ClearPlannedEnd {
		values["planned_end"] = nil
	}
	if upd.ClearNotes {
		values["notes"] = nil
	}
	return values
}

func (s *Gorm) SaveSyncRecord(ctx context.Context, rec *model.SyncRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("save sync record: %w", err)
	}
	return nil
}

func (s *Gorm) LastSyncRecord(ctx context.Context) (*model.SyncRecord, error) {
	var rec model.SyncRecord
	err := s.db.WithContext(ctx).Order("last_sync_at DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last sync record: %w", err)
	}
	return &rec, nil
}
