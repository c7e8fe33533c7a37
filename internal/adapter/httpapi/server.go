// Package httpapi exposes a read-only JSON view of the scheduler over gin.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"taskscheduler/internal/scheduler"
	"taskscheduler/internal/shared"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Scheduler is the subset of *scheduler.Service the API reads from.
type Scheduler interface {
	Tasks() []scheduler.TaskInfo
	Task(id string) (scheduler.TaskInfo, error)
	Stats() scheduler.Stats
	History(ctx context.Context, q scheduler.HistoryQuery) ([]scheduler.ExecutionRecord, error)
}

// Handler serves the API.
type Handler struct {
	svc Scheduler
	log *slog.Logger
}

// New builds the gin engine with all routes mounted.
func New(svc Scheduler, log *slog.Logger) *gin.Engine {
	h := &Handler{svc: svc, log: log.With(slog.String("component", "httpapi"))}

	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog)

	r.GET("/healthz", h.health)
	api := r.Group("/api")
	{
		api.GET("/stats", h.stats)
		api.GET("/tasks", h.listTasks)
		api.GET("/tasks/:id", h.getTask)
		api.GET("/tasks/:id/executions", h.listExecutions)
	}
	return r
}

func (h *Handler) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.log.Debug("request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.FullPath()),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("took", time.Since(start)),
	)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats())
}

func (h *Handler) listTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.svc.Tasks()})
}

func (h *Handler) getTask(c *gin.Context) {
	info, err := h.svc.Task(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type executionsQuery struct {
	Since time.Time `form:"since"`
	Until time.Time `form:"until"`
	Limit int       `form:"limit" binding:"gte=0"`
}

func (h *Handler) listExecutions(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.svc.Task(id); err != nil {
		h.fail(c, err)
		return
	}

	var q executionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, shared.Errorf(shared.KindValidation, "%v", err))
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultLimit
	}
	q.Limit = min(q.Limit, maxLimit)

	recs, err := h.svc.History(c.Request.Context(), scheduler.HistoryQuery{
		TaskID: id,
		Since:  q.Since,
		Until:  q.Until,
		Limit:  q.Limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if recs == nil {
		recs = []scheduler.ExecutionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"executions": recs})
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("path", c.FullPath()), slog.Any("err", err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{
		Kind:    shared.KindOf(err).String(),
		Message: err.Error(),
	}})
}

func statusOf(err error) int {
	switch shared.KindOf(err) {
	case shared.KindCanceled:
		return 499
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindValidation, shared.KindInvalidSchedule:
		return http.StatusBadRequest
	case shared.KindConflict, shared.KindDuplicateTaskID:
		return http.StatusConflict
	case shared.KindPoolSaturated:
		return http.StatusTooManyRequests
	case shared.KindTimeout:
		return http.StatusGatewayTimeout
	case shared.KindDependencyFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
