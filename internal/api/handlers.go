// Package api is the admin HTTP surface: definition management, manual
// fires, history queries and pruning.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"flowfire/custom_errors"
	"flowfire/internal/models"
	"flowfire/internal/state"
)

const DefaultPageSize = 15

// Admin is the engine surface the API exposes.
type Admin interface {
	CreateJob(ctx context.Context, def models.JobDefinition) (int64, error)
	UpdateJob(ctx context.Context, def models.JobDefinition) error
	EnableJob(ctx context.Context, id int64) error
	DisableJob(ctx context.Context, id int64) error
	GetJob(ctx context.Context, id int64) (*models.JobDefinition, error)
	ListJobs(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error)
	RunNow(ctx context.Context, id int64) error
	JobStatus(id int64) state.JobStatus
	History(ctx context.Context, jobID int64, from, to time.Time, page, pageSize int) (*models.PaginationResult[models.ExecutionAttempt], error)
	PruneHistory(ctx context.Context, before time.Time, requestedBy string) (int64, error)
}

type RouteHandler struct {
	admin Admin
}

func NewRouteHandler(admin Admin) *RouteHandler {
	return &RouteHandler{admin: admin}
}

// Router builds the gin engine with all admin routes mounted under /api/v1.
func (h *RouteHandler) Router() *gin.Engine {
	router := gin.Default()

	v1 := router.Group("/api/v1")
	{
		v1.POST("/jobs", h.CreateJob)
		v1.GET("/jobs", h.ListJobs)
		v1.GET("/jobs/:id", h.GetJob)
		v1.PUT("/jobs/:id", h.UpdateJob)
		v1.POST("/jobs/:id/enable", h.EnableJob)
		v1.POST("/jobs/:id/disable", h.DisableJob)
		v1.POST("/jobs/:id/run", h.RunNow)
		v1.GET("/jobs/:id/status", h.JobStatus)
		v1.GET("/jobs/:id/history", h.History)
		v1.POST("/history/prune", h.PruneHistory)
	}

	return router
}

func (h *RouteHandler) Serve(port uint) error {
	return h.Router().Run(fmt.Sprintf(":%d", port))
}

type JobRequest struct {
	Name         string          `json:"name" binding:"required"`
	Expression   string          `json:"expression" binding:"required"`
	HandlerID    string          `json:"handler_id" binding:"required"`
	Payload      json.RawMessage `json:"payload"`
	MaxAttempts  int             `json:"max_attempts"`
	BaseDelayMs  int64           `json:"base_delay_ms"`
	MaxDelayMs   int64           `json:"max_delay_ms"`
	Jitter       bool            `json:"jitter"`
	Enabled      *bool           `json:"enabled"`
	RunOnStartup bool            `json:"run_on_startup"`
}

func (r JobRequest) toDefinition() models.JobDefinition {
	def := models.JobDefinition{
		Name:         r.Name,
		Expression:   r.Expression,
		HandlerID:    r.HandlerID,
		Payload:      r.Payload,
		RunOnStartup: r.RunOnStartup,
		Enabled:      true,
	}
	if r.Enabled != nil {
		def.Enabled = *r.Enabled
	}
	if r.MaxAttempts != 0 || r.BaseDelayMs != 0 || r.MaxDelayMs != 0 {
		def.Retry = models.RetryPolicy{
			MaxAttempts: r.MaxAttempts,
			BaseDelay:   time.Duration(r.BaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(r.MaxDelayMs) * time.Millisecond,
			Jitter:      r.Jitter,
		}
	}
	return def
}

func (h *RouteHandler) CreateJob(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.admin.CreateJob(c, req.toDefinition())
	if err != nil {
		status := http.StatusInternalServerError
		var validation *custom_errors.ValidationError
		if errors.As(err, &validation) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *RouteHandler) UpdateJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def := req.toDefinition()
	def.ID = id
	if err := h.admin.UpdateJob(c, def); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *RouteHandler) GetJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	def, err := h.admin.GetJob(c, id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, def)
}

func (h *RouteHandler) ListJobs(c *gin.Context) {
	page, pageSize := pagination(c)

	jobs, err := h.admin.ListJobs(c, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, jobs)
}

func (h *RouteHandler) EnableJob(c *gin.Context) {
	h.setEnabled(c, true)
}

func (h *RouteHandler) DisableJob(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *RouteHandler) setEnabled(c *gin.Context, enabled bool) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	action := h.admin.DisableJob
	if enabled {
		action = h.admin.EnableJob
	}
	if err := action(c, id); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "enabled": enabled})
}

func (h *RouteHandler) RunNow(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	if err := h.admin.RunNow(c, id); err != nil {
		var overflow *custom_errors.DispatchOverflowError
		if errors.As(err, &overflow) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (h *RouteHandler) JobStatus(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": h.admin.JobStatus(id)})
}

func (h *RouteHandler) History(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	from, to, err := historyWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, pageSize := pagination(c)

	attempts, err := h.admin.History(c, id, from, to, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempts)
}

type PruneRequest struct {
	Before      time.Time `json:"before" binding:"required"`
	RequestedBy string    `json:"requested_by" binding:"required"`
}

func (h *RouteHandler) PruneHistory(c *gin.Context) {
	var req PruneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removed, err := h.admin.PruneHistory(c, req.Before, req.RequestedBy)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func jobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job id must be an integer"})
		return 0, false
	}
	return id, true
}

// historyWindow parses the optional from/to RFC3339 query parameters. The
// default window is everything up to now.
func historyWindow(c *gin.Context) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Now()

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, fmt.Errorf("invalid 'from' timestamp: %w", err)
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, fmt.Errorf("invalid 'to' timestamp: %w", err)
		}
		to = parsed
	}
	return from, to, nil
}

func pagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.Query("page_size"))
	if err != nil || pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return page, pageSize
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, custom_errors.ErrJobNotFound):
		status = http.StatusNotFound
	default:
		var validation *custom_errors.ValidationError
		if errors.As(err, &validation) {
			status = http.StatusBadRequest
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
