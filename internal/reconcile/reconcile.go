// Package reconcile merges freshly scraped assignment batches into the record
// store: insert unseen items, apply content changes to known ones, and
// soft-remove whatever the portal stopped listing.
package reconcile

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/dallinjm/coursepulse/internal/ingest"
	"github.com/dallinjm/coursepulse/internal/model"
	"github.com/dallinjm/coursepulse/internal/store"
)

// Result counts what one course batch did to the store.
type Result struct {
	Added       int
	Updated     int
	Unavailable int
}

// Engine reconciles one course batch at a time. Safe for use from a single
// sync goroutine; the store handles concurrent readers.
type Engine struct {
	store store.RecordStore
	log   *slog.Logger
	now   func() time.Time
}

func NewEngine(st store.RecordStore, log *slog.Logger) *Engine {
	return &Engine{store: st, log: log, now: time.Now}
}

// Reconcile merges a course's scraped batch for one source. The whole batch
// commits in a single transaction; a store failure aborts the batch and is
// fatal to the caller.
func (e *Engine) Reconcile(ctx context.Context, source, course string, items []ingest.ScrapedAssignment) (Result, error) {
	var res Result
	err := e.store.Transaction(ctx, func(tx store.RecordStore) error {
		now := e.now().UTC()
		keep := make([]string, 0, len(items))
		seen := make(map[string]struct{}, len(items))

		for _, item := range items {
			key := NaturalKey(item)
			if _, dup := seen[key]; dup {
				// Portals occasionally list the same item twice; first
				// occurrence wins.
				continue
			}
			seen[key] = struct{}{}
			keep = append(keep, key)

			existing, err := tx.FindByKey(ctx, source, key)
			switch {
			case err == store.ErrNotFound:
				if err := e.insert(ctx, tx, source, course, key, item, now); err != nil {
					return err
				}
				res.Added++
			case err != nil:
				return err
			default:
				changed, err := e.apply(ctx, tx, existing, item, now)
				if err != nil {
					return err
				}
				if changed {
					res.Updated++
				}
			}
		}

		n, err := tx.MarkUnavailable(ctx, source, course, keep)
		if err != nil {
			return err
		}
		res.Unavailable = int(n)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("reconcile %s/%s: %w", source, course, err)
	}
	e.log.Info("course reconciled",
		"source", source, "course", course,
		"added", res.Added, "updated", res.Updated, "unavailable", res.Unavailable)
	return res, nil
}

func (e *Engine) insert(ctx context.Context, tx store.RecordStore, source, course, key string, item ingest.ScrapedAssignment, now time.Time) error {
	rec := &model.Assignment{
		Source:         source,
		SyncKey:        key,
		ExternalID:     item.ExternalID,
		Title:          cleanTitle(item.Title),
		CourseName:     course,
		DueDate:        normalizeInstant(item.DueDate),
		Description:    strings.TrimSpace(item.Description),
		Link:           strings.TrimSpace(item.Link),
		AssignmentType: strings.TrimSpace(item.AssignmentType),
		PointValue:     item.PointValue,
		Status:         model.StatusNewlyAssigned,
		IsModified:     false,
		LastScrapedAt:  now,
	}
	return tx.Upsert(ctx, rec)
}

// apply writes the scraped content onto an existing record. Only content
// columns move; the stored workflow status and planning fields are the
// user's. Returns whether any compared field actually differed.
func (e *Engine) apply(ctx context.Context, tx store.RecordStore, existing *model.Assignment, item ingest.ScrapedAssignment, now time.Time) (bool, error) {
	title := cleanTitle(item.Title)
	due := normalizeInstant(item.DueDate)
	desc := strings.TrimSpace(item.Description)
	link := strings.TrimSpace(item.Link)
	typ := strings.TrimSpace(item.AssignmentType)

	changed := existing.Title != title ||
		!sameInstant(existing.DueDate, due) ||
		existing.Description != desc ||
		existing.Link != link ||
		existing.AssignmentType != typ ||
		!samePoints(existing.PointValue, item.PointValue)

	if changed {
		existing.Title = title
		existing.DueDate = due
		existing.Description = desc
		existing.Link = link
		existing.AssignmentType = typ
		existing.PointValue = item.PointValue
		existing.IsModified = true
	}
	// Recency always refreshes, changed or not.
	existing.LastScrapedAt = now
	if item.ExternalID != "" {
		existing.ExternalID = item.ExternalID
	}
	if err := tx.Upsert(ctx, existing); err != nil {
		return false, err
	}
	return changed, nil
}

// NaturalKey derives the stable identity of a scraped item: the portal's
// external id when present, otherwise the normalized title. Course scoping
// comes from the (source, course) arguments to Reconcile and the store's
// unique (source, sync_key) index.
func NaturalKey(item ingest.ScrapedAssignment) string {
	if id := strings.TrimSpace(item.ExternalID); id != "" {
		return "ext:" + id
	}
	return "nat:" + NormalizeTitle(item.CourseName) + "/" + NormalizeTitle(item.Title)
}

// NormalizeTitle lowercases, unescapes HTML entities, and collapses
// whitespace. Exact match on this form is the fallback matching rule; no
// fuzzy matching.
func NormalizeTitle(s string) string {
	s = html.UnescapeString(s)
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

func cleanTitle(s string) string {
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

func normalizeInstant(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func samePoints(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
