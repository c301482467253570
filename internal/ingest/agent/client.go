// Package agent is the JSON-over-HTTP adapter to the browser agent sidecar
// that drives the interactive portal: it opens the real sign-in page for the
// user, watches the handshake, and scrapes course pages once authenticated.
// The browser automation itself lives in the sidecar, not here.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dallinjm/coursepulse/internal/ingest"
)

// Session is an interactive-portal session handle: the agent-side session id
// the sidecar established during login.
type Session struct {
	ID     string
	source string
}

func (s Session) Source() string { return s.source }

// Client implements ingest.LoginAgent and ingest.CourseClient against the
// sidecar's HTTP API.
type Client struct {
	source  string
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(source, baseURL string, log *slog.Logger) *Client {
	return &Client{
		source:  source,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		log:     log,
	}
}

type beginResponse struct {
	Handle string `json:"handle"`
}

type pollResponse struct {
	Phase     string `json:"phase"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (c *Client) Begin(ctx context.Context) (string, error) {
	var out beginResponse
	if err := c.do(ctx, http.MethodPost, "/login/begin", nil, &out); err != nil {
		return "", fmt.Errorf("agent begin: %w", err)
	}
	if out.Handle == "" {
		return "", fmt.Errorf("agent begin: empty handle")
	}
	return out.Handle, nil
}

func (c *Client) Poll(ctx context.Context, handle string) (ingest.LoginPoll, error) {
	var out pollResponse
	path := "/login/" + url.PathEscape(handle)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return ingest.LoginPoll{}, fmt.Errorf("agent poll: %w", err)
	}

	poll := ingest.LoginPoll{Reason: out.Reason}
	switch out.Phase {
	case "opening", "waiting_for_login":
		poll.Phase = ingest.PhaseWaitingForLogin
	case "waiting_for_mfa":
		poll.Phase = ingest.PhaseWaitingForMFA
	case "authenticated":
		poll.Phase = ingest.PhaseAuthenticated
		poll.Session = Session{ID: out.SessionID, source: c.source}
	case "failed":
		poll.Phase = ingest.PhaseFailed
	default:
		return ingest.LoginPoll{}, fmt.Errorf("agent poll: unknown phase %q", out.Phase)
	}
	return poll, nil
}

func (c *Client) Cancel(ctx context.Context, handle string) error {
	path := "/login/" + url.PathEscape(handle)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("agent cancel: %w", err)
	}
	return nil
}

type agentCourse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type agentAssignment struct {
	ExternalID     string   `json:"external_id"`
	Title          string   `json:"title"`
	DueDate        *string  `json:"due_date"`
	Description    string   `json:"description"`
	Link           string   `json:"link"`
	AssignmentType string   `json:"assignment_type"`
	PointValue     *float64 `json:"point_value"`
}

func (c *Client) ListCourses(ctx context.Context, sess ingest.Session) ([]ingest.Course, error) {
	id, err := c.sessionID(sess)
	if err != nil {
		return nil, err
	}
	var out []agentCourse
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id)+"/courses", nil, &out); err != nil {
		return nil, err
	}
	courses := make([]ingest.Course, 0, len(out))
	for _, ac := range out {
		courses = append(courses, ingest.Course{ID: ac.ID, Name: ac.Name})
	}
	return courses, nil
}

func (c *Client) FetchAssignments(ctx context.Context, sess ingest.Session, course ingest.Course) ([]ingest.ScrapedAssignment, error) {
	id, err := c.sessionID(sess)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/sessions/%s/courses/%s/assignments", url.PathEscape(id), url.PathEscape(course.ID))
	var out []agentAssignment
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	items := make([]ingest.ScrapedAssignment, 0, len(out))
	for _, a := range out {
		items = append(items, ingest.ScrapedAssignment{
			ExternalID:     a.ExternalID,
			Title:          a.Title,
			CourseName:     course.Name,
			DueDate:        parseTime(a.DueDate),
			Description:    a.Description,
			Link:           a.Link,
			AssignmentType: a.AssignmentType,
			PointValue:     a.PointValue,
		})
	}
	return items, nil
}

func (c *Client) sessionID(sess ingest.Session) (string, error) {
	s, ok := sess.(Session)
	if !ok || s.ID == "" {
		return "", ingest.ErrAuthInvalid
	}
	return s.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ingest.TransientError{Op: "agent " + method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusGone:
		// The sidecar reports 401/410 when the portal bounced the session.
		return ingest.ErrAuthInvalid
	case resp.StatusCode >= 500:
		return &ingest.TransientError{
			Op:  "agent " + method + " " + path,
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	case resp.StatusCode >= 300:
		return fmt.Errorf("agent %s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	u := t.UTC()
	return &u
}
