// Package ingest defines the seams between the sync core and the external
// portal adapters: the session handle, the interactive login agent, and the
// per-course assignment client. Portal-specific scraping lives behind these
// interfaces, never in the core.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAuthInvalid signals that the portal rejected the session mid-call.
// The orchestrator invalidates the session and fails the sync on this error.
var ErrAuthInvalid = errors.New("session is no longer authenticated")

// TransientError marks a per-course failure that should not abort the sync;
// the next sync cycle is the retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Session is an opaque authenticated handle for one source. The session
// store owns it; callers borrow it for a single call and must not retain it.
type Session interface {
	Source() string
}

// Course identifies one course on a portal.
type Course struct {
	ID   string
	Name string
}

// ScrapedAssignment is the portal-agnostic shape of one scraped item.
// ExternalID is set when the portal exposes a stable id, otherwise empty and
// reconciliation falls back to the normalized title.
type ScrapedAssignment struct {
	ExternalID     string
	Title          string
	CourseName     string
	DueDate        *time.Time
	Description    string
	Link           string
	AssignmentType string
	PointValue     *float64
}

// CourseClient fetches the current assignment set for a source.
type CourseClient interface {
	ListCourses(ctx context.Context, sess Session) ([]Course, error)
	FetchAssignments(ctx context.Context, sess Session, course Course) ([]ScrapedAssignment, error)
}

// LoginPhase is the agent-reported progress of an interactive login.
type LoginPhase string

const (
	PhaseWaitingForLogin LoginPhase = "waiting_for_login"
	PhaseWaitingForMFA   LoginPhase = "waiting_for_mfa"
	PhaseAuthenticated   LoginPhase = "authenticated"
	PhaseFailed          LoginPhase = "failed"
)

// LoginPoll is one observation of an in-flight login handshake. Session is
// non-nil only when Phase is PhaseAuthenticated; Reason is set only on
// PhaseFailed.
type LoginPoll struct {
	Phase   LoginPhase
	Session Session
	Reason  string
}

// LoginAgent drives the interactive, human-assisted authentication handshake
// against a portal. Begin launches the interactive agent and returns a handle
// that Poll advances; Cancel tears the handle down when the flow is abandoned.
type LoginAgent interface {
	Begin(ctx context.Context) (handle string, err error)
	Poll(ctx context.Context, handle string) (LoginPoll, error)
	Cancel(ctx context.Context, handle string) error
}
