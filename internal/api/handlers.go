package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dallinjm/coursepulse/internal/auth"
	"github.com/dallinjm/coursepulse/internal/model"
	"github.com/dallinjm/coursepulse/internal/session"
	"github.com/dallinjm/coursepulse/internal/store"
	"github.com/dallinjm/coursepulse/internal/syncmgr"
)

// TokenValidator checks a personal access token against the token source and
// returns the account's display name.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

type APIHandler struct {
	Sync      *syncmgr.Manager
	Flow      *auth.Flow
	Tokens    *auth.TokenStore
	Store     store.RecordStore
	Sessions  *session.Store
	Validator TokenValidator

	// InteractiveSource is the source /auth/browser-login starts a flow for.
	InteractiveSource string
}

func RegisterHandlers(r *gin.Engine, h *APIHandler) {
	r.GET("/ping", h.ping)

	r.POST("/sync/start", h.startSync)
	r.GET("/sync/status/:id", h.syncStatus)
	r.GET("/sync/last", h.lastSync)

	r.POST("/auth/browser-login", h.browserLogin)
	r.GET("/auth/browser-status/:id", h.browserStatus)
	r.GET("/auth/status", h.authStatus)
	r.POST("/auth/logout", h.logout)

	r.POST("/auth/canvas-token", h.setCanvasToken)
	r.GET("/auth/canvas-status", h.canvasStatus)
	r.DELETE("/auth/canvas-token", h.deleteCanvasToken)

	r.GET("/assignments", h.listAssignments)
	r.GET("/assignments/:id", h.getAssignment)
	r.PATCH("/assignments/:id", h.updateAssignment)
}

func (h *APIHandler) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *APIHandler) startSync(c *gin.Context) {
	id, err := h.Sync.StartSync()
	if err != nil {
		if errors.Is(err, syncmgr.ErrSyncInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id, "message": "Sync started"})
}

func (h *APIHandler) syncStatus(c *gin.Context) {
	task, err := h.Sync.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sync task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *APIHandler) lastSync(c *gin.Context) {
	rec, err := h.Store.LastSyncRecord(c.Request.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no syncs recorded"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *APIHandler) browserLogin(c *gin.Context) {
	if _, ok := h.Sessions.Get(h.InteractiveSource); ok {
		c.JSON(http.StatusOK, gin.H{"message": "Already authenticated"})
		return
	}
	id, err := h.Flow.Begin(h.InteractiveSource)
	if err != nil {
		if errors.Is(err, auth.ErrLoginInFlight) {
			if active, ok := h.Flow.ActiveTask(h.InteractiveSource); ok {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "task_id": active})
				return
			}
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id, "message": "Browser opening..."})
}

func (h *APIHandler) browserStatus(c *gin.Context) {
	task, err := h.Flow.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "login task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *APIHandler) authStatus(c *gin.Context) {
	_, authenticated := h.Sessions.Get(h.InteractiveSource)
	c.JSON(http.StatusOK, gin.H{
		"authenticated":    authenticated,
		"canvas_connected": h.Tokens.Connected(),
	})
}

func (h *APIHandler) logout(c *gin.Context) {
	h.Sessions.Invalidate(h.InteractiveSource)
	h.Tokens.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

type canvasTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *APIHandler) setCanvasToken(c *gin.Context) {
	var req canvasTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	name, err := h.Validator.ValidateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token, please check and try again"})
		return
	}
	if err := h.Tokens.Set(token, name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_name": name})
}

func (h *APIHandler) canvasStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected": h.Tokens.Connected(),
		"user_name": h.Tokens.UserName(),
	})
}

func (h *APIHandler) deleteCanvasToken(c *gin.Context) {
	h.Tokens.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "Disconnected"})
}

func (h *APIHandler) listAssignments(c *gin.Context) {
	opts := store.ListOptions{
		ExcludePastSubmitted: c.Query("exclude_past_submitted") == "true",
	}
	assignments, err := h.Store.List(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if assignments == nil {
		assignments = []model.Assignment{}
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments})
}

func (h *APIHandler) getAssignment(c *gin.Context) {
	a, err := h.Store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "assignment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment": a})
}

// assignmentUpdateRequest carries user edits: the workflow status and the
// planning fields. Empty strings clear a planning field.
type assignmentUpdateRequest struct {
	Status           *string `json:"status"`
	EstimatedMinutes *int    `json:"estimated_minutes"`
	PlannedStart     *string `json:"planned_start"`
	PlannedEnd       *string `json:"planned_end"`
	Notes            *string `json:"notes"`
}

func (h *APIHandler) updateAssignment(c *gin.Context) {
	var req assignmentUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var upd store.AssignmentUpdate
	if req.Status != nil {
		status := model.WorkflowStatus(*req.Status)
		if !status.Valid() {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown status"})
			return
		}
		upd.Status = &status
	}
	if req.EstimatedMinutes != nil {
		if *req.EstimatedMinutes < 1 || *req.EstimatedMinutes > 1440 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "estimated_minutes must be between 1 and 1440"})
			return
		}
		upd.EstimatedMinutes = req.EstimatedMinutes
	}
	if !h.applyTimeField(c, req.PlannedStart, &upd.PlannedStart, &upd.ClearPlannedStart) {
		return
	}
	if !h.applyTimeField(c, req.PlannedEnd, &upd.PlannedEnd, &upd.ClearPlannedEnd) {
		return
	}
	if req.Notes != nil {
		if *req.Notes == "" {
			upd.ClearNotes = true
		} else {
			upd.Notes = req.Notes
		}
	}

	if upd.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	a, err := h.Store.UpdateAssignment(c.Request.Context(), c.Param("id"), upd)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "assignment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment": a})
}

// applyTimeField parses an optional RFC3339 field, treating "" as a clear.
// Returns false after writing an error response.
func (h *APIHandler) applyTimeField(c *gin.Context, raw *string, dst **time.Time, clear *bool) bool {
	if raw == nil {
		return true
	}
	if *raw == "" {
		*clear = true
		return true
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "timestamps must be RFC3339"})
		return false
	}
	u := t.UTC()
	*dst = &u
	return true
}
