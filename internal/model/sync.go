package model

import (
	"time"

	"gorm.io/datatypes"
)

type SyncStatus string

const (
	SyncPending         SyncStatus = "pending"
	SyncCheckingSession SyncStatus = "checking_session"
	SyncWaitingForMFA   SyncStatus = "waiting_for_mfa"
	SyncScraping        SyncStatus = "scraping"
	SyncUpdatingDB      SyncStatus = "updating_db"
	SyncCompleted       SyncStatus = "completed"
	SyncFailed          SyncStatus = "failed"
)

// Terminal reports whether the status is an end state. A terminal task is
// never mutated again.
func (s SyncStatus) Terminal() bool {
	return s == SyncCompleted || s == SyncFailed
}

// SyncTask is one background sync run. It lives only in the in-process
// registry; a restart loses in-flight tasks along with their sessions.
type SyncTask struct {
	ID      string     `json:"task_id"`
	Status  SyncStatus `json:"status"`
	Message string     `json:"message"`
	Error   string     `json:"error,omitempty"`

	CurrentCourse     int    `json:"current_course"`
	TotalCourses      int    `json:"total_courses"`
	CurrentCourseName string `json:"current_course_name"`

	AssignmentsAdded   int `json:"assignments_added"`
	AssignmentsUpdated int `json:"assignments_updated"`
	CoursesScraped     int `json:"courses_scraped"`

	// CourseErrors records per-course ingestion failures that did not fail
	// the task as a whole.
	CourseErrors []string `json:"course_errors,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// SyncRecord is the persisted summary of a terminal sync, one row per run.
// Unlike SyncTask it survives restarts; /sync/last reads the newest row.
type SyncRecord struct {
	ID         uint           `gorm:"primaryKey" json:"-"`
	TaskID     string         `gorm:"column:task_id" json:"task_id"`
	LastSyncAt time.Time      `gorm:"column:last_sync_at;index" json:"last_sync_at"`
	Status     string         `gorm:"not null" json:"status"`
	Summary    datatypes.JSON `gorm:"type:jsonb" json:"summary,omitempty"`
	Error      *string        `gorm:"type:text" json:"error,omitempty"`
}

func (SyncRecord) TableName() string {
	return "sync_metadata"
}

// SyncSummary is what gets marshalled into SyncRecord.Summary.
type SyncSummary struct {
	CoursesScraped     int `json:"courses_scraped"`
	AssignmentsAdded   int `json:"assignments_added"`
	AssignmentsUpdated int `json:"assignments_updated"`
}
