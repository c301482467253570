// Package canvas talks to the Canvas LMS REST API with a personal access
// token. It is a plain HTTP client, no browser involved, which is why this
// source never needs the interactive login flow.
package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dallinjm/coursepulse/internal/ingest"
)

// SourceName is the source identifier Canvas records carry.
const SourceName = "canvas"

const maxDescriptionLen = 500

// Session is the canvas session handle: just the bearer token.
type Session struct {
	Token string
}

func (Session) Source() string { return SourceName }

// Client implements ingest.CourseClient against a Canvas instance.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL string, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

type apiCourse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type apiAssignment struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	DueAt           *string  `json:"due_at"`
	HTMLURL         string   `json:"html_url"`
	PointsPossible  *float64 `json:"points_possible"`
	Published       *bool    `json:"published"`
	SubmissionTypes []string `json:"submission_types"`
}

// ValidateToken checks a token against /api/v1/users/self and returns the
// account's display name.
func (c *Client) ValidateToken(ctx context.Context, token string) (string, error) {
	var user struct {
		Name      string `json:"name"`
		ShortName string `json:"short_name"`
	}
	if err := c.getJSON(ctx, token, c.baseURL+"/api/v1/users/self", &user); err != nil {
		return "", err
	}
	if user.Name != "" {
		return user.Name, nil
	}
	if user.ShortName != "" {
		return user.ShortName, nil
	}
	return "Canvas User", nil
}

func (c *Client) ListCourses(ctx context.Context, sess ingest.Session) ([]ingest.Course, error) {
	token, err := tokenOf(sess)
	if err != nil {
		return nil, err
	}
	url := c.baseURL + "/api/v1/users/self/courses?enrollment_state=active&per_page=100"
	raw, err := paginate[apiCourse](ctx, c, token, url)
	if err != nil {
		return nil, err
	}
	courses := make([]ingest.Course, 0, len(raw))
	for _, rc := range raw {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("Course %d", rc.ID)
		}
		courses = append(courses, ingest.Course{
			ID:   strconv.FormatInt(rc.ID, 10),
			Name: name,
		})
	}
	c.log.Info("canvas courses listed", "count", len(courses))
	return courses, nil
}

func (c *Client) FetchAssignments(ctx context.Context, sess ingest.Session, course ingest.Course) ([]ingest.ScrapedAssignment, error) {
	token, err := tokenOf(sess)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/api/v1/courses/%s/assignments?per_page=100", c.baseURL, course.ID)
	raw, err := paginate[apiAssignment](ctx, c, token, url)
	if err != nil {
		return nil, err
	}

	var out []ingest.ScrapedAssignment
	for _, a := range raw {
		if a.Published != nil && !*a.Published {
			continue
		}
		title := a.Name
		if title == "" {
			title = "Untitled"
		}
		typ := "unknown"
		if len(a.SubmissionTypes) > 0 {
			typ = a.SubmissionTypes[0]
		}
		out = append(out, ingest.ScrapedAssignment{
			ExternalID:     strconv.FormatInt(a.ID, 10),
			Title:          title,
			CourseName:     course.Name,
			DueDate:        parseDueAt(a.DueAt),
			Description:    truncate(stripHTML(a.Description), maxDescriptionLen),
			Link:           a.HTMLURL,
			AssignmentType: typ,
			PointValue:     a.PointsPossible,
		})
	}
	return out, nil
}

// paginate follows Canvas Link-header pagination and returns every item
// across pages.
func paginate[T any](ctx context.Context, c *Client, token, url string) ([]T, error) {
	var all []T
	for url != "" {
		var page []T
		next, err := c.getPage(ctx, token, url, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		url = next
	}
	return all, nil
}

func (c *Client) getPage(ctx context.Context, token, url string, page any) (next string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("canvas request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &ingest.TransientError{Op: "canvas get", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", ingest.ErrAuthInvalid
	case resp.StatusCode != http.StatusOK:
		return "", &ingest.TransientError{
			Op:  "canvas get",
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ingest.TransientError{Op: "canvas read", Err: err}
	}
	if err := json.Unmarshal(body, page); err != nil {
		return "", fmt.Errorf("canvas decode: %w", err)
	}
	return nextLink(resp.Header.Get("Link")), nil
}

func (c *Client) getJSON(ctx context.Context, token, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("canvas request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &ingest.TransientError{Op: "canvas get", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ingest.ErrAuthInvalid
	}
	if resp.StatusCode != http.StatusOK {
		return &ingest.TransientError{
			Op:  "canvas get",
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// nextLink pulls the rel="next" URL out of a Canvas Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		urlPart := strings.SplitN(part, ";", 2)[0]
		return strings.Trim(strings.TrimSpace(urlPart), "<>")
	}
	return ""
}

func tokenOf(sess ingest.Session) (string, error) {
	s, ok := sess.(Session)
	if !ok || s.Token == "" {
		return "", ingest.ErrAuthInvalid
	}
	return s.Token, nil
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

func stripHTML(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func parseDueAt(s *string) *time.Time {
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
