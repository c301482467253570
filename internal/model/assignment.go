package model

import "time"

// WorkflowStatus is the user-facing kanban status of an assignment. It is
// owned by the user once it leaves the initial states; sync never rewrites
// it except for the soft-removal transition to StatusUnavailable.
type WorkflowStatus string

const (
	StatusNewlyAssigned WorkflowStatus = "newly_assigned"
	StatusNotStarted    WorkflowStatus = "not_started"
	StatusInProgress    WorkflowStatus = "in_progress"
	StatusSubmitted     WorkflowStatus = "submitted"
	StatusUnavailable   WorkflowStatus = "unavailable"
)

// Valid reports whether s is one of the known workflow statuses.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case StatusNewlyAssigned, StatusNotStarted, StatusInProgress, StatusSubmitted, StatusUnavailable:
		return true
	}
	return false
}

// Assignment is one tracked assignment row. The identity used by sync is
// (Source, SyncKey); SyncKey is derived from the portal's stable external id
// when it has one, otherwise from the normalized title within the course.
type Assignment struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	Source     string `gorm:"index:idx_assignments_sync_key,unique;not null" json:"source"`
	SyncKey    string `gorm:"index:idx_assignments_sync_key,unique;not null;column:sync_key" json:"-"`
	ExternalID string `gorm:"column:external_id" json:"external_id,omitempty"`

	Title          string     `gorm:"not null" json:"title"`
	CourseName     string     `gorm:"index;not null;column:course_name" json:"course_name"`
	DueDate        *time.Time `gorm:"column:due_date" json:"due_date"`
	Description    string     `gorm:"type:text" json:"description"`
	Link           string     `json:"link"`
	AssignmentType string     `gorm:"column:assignment_type" json:"assignment_type"`
	PointValue     *float64   `gorm:"column:point_value" json:"point_value"`

	Status        WorkflowStatus `gorm:"not null;default:newly_assigned" json:"status"`
	IsModified    bool           `gorm:"not null;default:false;column:is_modified" json:"is_modified"`
	LastScrapedAt time.Time      `gorm:"column:last_scraped_at" json:"last_scraped_at"`

	// Planning fields belong to the user and are never written by sync.
	EstimatedMinutes *int       `gorm:"column:estimated_minutes" json:"estimated_minutes"`
	PlannedStart     *time.Time `gorm:"column:planned_start" json:"planned_start"`
	PlannedEnd       *time.Time `gorm:"column:planned_end" json:"planned_end"`
	Notes            *string    `gorm:"type:text" json:"notes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Assignment) TableName() string {
	return "assignments"
}
