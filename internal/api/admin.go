package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/marketpulse/internal/logger"
	"github.com/jonesrussell/marketpulse/internal/scheduler"
)

// TriggerIngest answers POST /admin/ingest/:task. The default is a detached
// run: the response carries a run id and the pipeline keeps going after the
// request returns. ?wait=true blocks until the run finishes and returns the
// full report instead.
func (h *Handler) TriggerIngest(c *gin.Context) {
	task := c.Param("task")

	if c.Query("wait") == "true" {
		report, err := h.sched.RunOnce(c.Request.Context(), task)
		if err != nil {
			h.ingestError(c, task, err)
			return
		}
		c.JSON(http.StatusOK, report)
		return
	}

	run, err := h.sched.RunDetached(task)
	if err != nil {
		h.ingestError(c, task, err)
		return
	}
	h.log.Info("manual ingestion started",
		logger.String("task", task),
		logger.String("run_id", run.ID))
	c.JSON(http.StatusAccepted, gin.H{
		"run_id": run.ID,
		"task":   run.Task,
	})
}

func (h *Handler) ingestError(c *gin.Context, task string, err error) {
	if errors.Is(err, scheduler.ErrUnknownTask) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task: " + task})
		return
	}
	h.log.Error("manual ingestion failed", logger.String("task", task), logger.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
}

// Tasks answers GET /admin/tasks with the registered pipelines and their
// last outcomes.
func (h *Handler) Tasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

type runStatusResponse struct {
	RunID    string               `json:"run_id"`
	Task     string               `json:"task"`
	Started  time.Time            `json:"started"`
	Finished bool                 `json:"finished"`
	Report   *scheduler.RunReport `json:"report,omitempty"`
}

// RunStatus answers GET /admin/runs/:id for runs started through
// TriggerIngest. Finished runs are evicted after a bounded history, so an
// unknown id can also mean an old run.
func (h *Handler) RunStatus(c *gin.Context) {
	id := c.Param("id")
	run, ok := h.sched.Run(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run: " + id})
		return
	}
	c.JSON(http.StatusOK, runStatusResponse{
		RunID:    run.ID,
		Task:     run.Task,
		Started:  run.Started,
		Finished: run.Finished(),
		Report:   run.Report(),
	})
}

// FlushCache answers DELETE /admin/cache. The pattern parameter is required
// so a typo cannot wipe the whole cache.
func (h *Handler) FlushCache(c *gin.Context) {
	pattern := c.Query("pattern")
	if pattern == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pattern parameter is required"})
		return
	}

	deleted := h.cache.DeleteMatching(c.Request.Context(), pattern)
	h.log.Info("cache flushed",
		logger.String("pattern", pattern),
		logger.Int("deleted", deleted))
	c.JSON(http.StatusOK, gin.H{
		"pattern": pattern,
		"deleted": deleted,
	})
}

// AdminStats answers GET /admin/stats.
func (h *Handler) AdminStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rate_limit": h.limiter.Stats(),
		"cache":      h.cache.Stats(c.Request.Context()),
	})
}

// ResetRateLimit answers POST /admin/ratelimit/reset.
func (h *Handler) ResetRateLimit(c *gin.Context) {
	h.limiter.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "rate limiter reset"})
}
