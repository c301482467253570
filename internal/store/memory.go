package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dallinjm/coursepulse/internal/model"
)

// Memory is an in-memory RecordStore with the same column-scoping rules as
// the gorm store. It backs the tests.
type Memory struct {
	mu          sync.Mutex
	assignments map[string]*model.Assignment // keyed by ID
	syncRecords []model.SyncRecord
}

func NewMemory() *Memory {
	return &Memory{assignments: make(map[string]*model.Assignment)}
}

func (s *Memory) FindByKey(ctx context.Context, source, syncKey string) (*model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.Source == source && a.SyncKey == syncKey {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) Upsert(ctx context.Context, a *model.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = uuid.New().String()
		a.CreatedAt = now
		a.UpdatedAt = now
		cp := *a
		s.assignments[a.ID] = &cp
		return nil
	}
	existing, ok := s.assignments[a.ID]
	if !ok {
		return ErrNotFound
	}
	// Scraped content columns only; status and planning stay as stored.
	existing.Title = a.Title
	existing.CourseName = a.CourseName
	existing.DueDate = a.DueDate
	existing.Description = a.Description
	existing.Link = a.Link
	existing.AssignmentType = a.AssignmentType
	existing.PointValue = a.PointValue
	existing.ExternalID = a.ExternalID
	existing.IsModified = a.IsModified
	existing.LastScrapedAt = a.LastScrapedAt
	existing.UpdatedAt = now
	return nil
}

func (s *Memory) MarkUnavailable(ctx context.Context, source, course string, keepKeys []string) (int64, error) {
	keep := make(map[string]struct{}, len(keepKeys))
	for _, k := range keepKeys {
		keep[k] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.assignments {
		if a.Source != source || a.CourseName != course {
			continue
		}
		if a.Status == model.StatusSubmitted || a.Status == model.StatusUnavailable {
			continue
		}
		if _, ok := keep[a.SyncKey]; ok {
			continue
		}
		a.Status = model.StatusUnavailable
		a.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

func (s *Memory) Transaction(ctx context.Context, fn func(RecordStore) error) error {
	return fn(s)
}

func (s *Memory) GetByID(ctx context.Context, id string) (*model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Memory) List(ctx context.Context, opts ListOptions) ([]model.Assignment, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Assignment
	for _, a := range s.assignments {
		if opts.ExcludePastSubmitted && a.Status == model.StatusSubmitted &&
			a.DueDate != nil && a.DueDate.Before(now) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].DueDate, out[j].DueDate
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.Before(*dj)
		}
	})
	return out, nil
}

func (s *Memory) UpdateAssignment(ctx context.Context, id string, upd AssignmentUpdate) (*model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Status != nil {
		a.Status = *upd.Status
	}
	if upd.EstimatedMinutes != nil {
		a.EstimatedMinutes = upd.EstimatedMinutes
	}
	if upd.PlannedStart != nil {
		a.PlannedStart = upd.PlannedStart
	}
	if upd.PlannedEnd != nil {
		a.PlannedEnd = upd.PlannedEnd
	}
	if upd.Notes != nil {
		a.Notes = upd.Notes
	}
	if upd.ClearPlannedStart {
		a.PlannedStart = nil
	}
	if upd.ClearPlannedEnd {
		a.PlannedEnd = nil
	}
	if upd.ClearNotes {
		a.Notes = nil
	}
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

func (s *Memory) SaveSyncRecord(ctx context.Context, rec *model.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = uint(len(s.syncRecords) + 1)
	s.syncRecords = append(s.syncRecords, *rec)
	return nil
}

func (s *Memory) LastSyncRecord(ctx context.Context) (*model.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.syncRecords) == 0 {
		return nil, ErrNotFound
	}
	best := s.syncRecords[0]
	for _, r := range s.syncRecords[1:] {
		if r.LastSyncAt.After(best.LastSyncAt) {
			best = r
		}
	}
	return &best, nil
}
