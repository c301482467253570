package model

import "time"

// LoginStatus tracks an interactive login flow. It is deliberately a
// separate type from SyncStatus: the two machines share shape but not
// transition rules.
type LoginStatus string

const (
	LoginPending         LoginStatus = "pending"
	LoginOpening         LoginStatus = "opening"
	LoginWaitingForLogin LoginStatus = "waiting_for_login"
	LoginWaitingForMFA   LoginStatus = "waiting_for_mfa"
	LoginAuthenticated   LoginStatus = "authenticated"
	LoginFailed          LoginStatus = "failed"
	LoginTimedOut        LoginStatus = "timed_out"
)

func (s LoginStatus) Terminal() bool {
	return s == LoginAuthenticated || s == LoginFailed || s == LoginTimedOut
}

// LoginTask is one interactive authentication attempt for a source.
type LoginTask struct {
	ID         string      `json:"task_id"`
	Source     string      `json:"source"`
	Status     LoginStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}
