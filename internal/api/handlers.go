// Package api exposes the marketpulse HTTP surface: the public query
// endpoint, health and readiness probes, the metrics endpoint, and the
// admin routes for manual ingestion and operational state.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/marketpulse/internal/cache"
	"github.com/jonesrussell/marketpulse/internal/logger"
	"github.com/jonesrussell/marketpulse/internal/query"
	"github.com/jonesrussell/marketpulse/internal/ratelimit"
	"github.com/jonesrussell/marketpulse/internal/scheduler"
	"github.com/jonesrussell/marketpulse/internal/service"
)

// readyTimeout bounds the store probe inside the readiness handler.
const readyTimeout = 5 * time.Second

// StoreHealth reports content store reachability.
type StoreHealth interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds the HTTP handlers' collaborators.
type Handler struct {
	name    string
	version string
	query   *service.QueryService
	sched   *scheduler.Scheduler
	store   StoreHealth
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	log     logger.Logger
}

// NewHandler builds the handler set.
func NewHandler(
	name, version string,
	querySvc *service.QueryService,
	sched *scheduler.Scheduler,
	store StoreHealth,
	c *cache.Cache,
	limiter *ratelimit.Limiter,
	log logger.Logger,
) *Handler {
	return &Handler{
		name:    name,
		version: version,
		query:   querySvc,
		sched:   sched,
		store:   store,
		cache:   c,
		limiter: limiter,
		log:     log,
	}
}

// Health answers liveness probes. Always 200: the process is up.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.name,
		"version": h.version,
	})
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Ready answers readiness probes. The store must be reachable; the cache is
// optional, so a disconnected cache only degrades the report.
func (h *Handler) Ready(c *gin.Context) {
	res := readyResponse{
		Status: "ready",
		Checks: map[string]string{"elasticsearch": "ok", "cache": "ok"},
	}
	if !h.cache.Connected() {
		res.Status = "degraded"
		res.Checks["cache"] = "disconnected"
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()
	if err := h.store.HealthCheck(ctx); err != nil {
		res.Status = "unavailable"
		res.Checks["elasticsearch"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Query answers GET /api/v1/query.
func (h *Handler) Query(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.query.Search(c.Request.Context(), filter)
	if err != nil {
		if errors.Is(err, query.ErrInvalidFilter) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error("query endpoint failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// parseFilter reads the query parameters into a filter. List parameters
// accept both repeated keys and comma-separated values.
func parseFilter(c *gin.Context) (query.Filter, error) {
	f := query.Filter{
		Query:   c.Query("q"),
		Types:   splitList(c.QueryArray("types")),
		Symbols: splitList(c.QueryArray("symbols")),
	}

	from, err := parseTimeParam(c.Query("from"))
	if err != nil {
		return f, errors.New("invalid from: use RFC3339 or epoch seconds")
	}
	f.From = from

	to, err := parseTimeParam(c.Query("to"))
	if err != nil {
		return f, errors.New("invalid to: use RFC3339 or epoch seconds")
	}
	f.To = to

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return f, errors.New("invalid limit: must be an integer")
		}
		f.Limit = limit
	}
	return f, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseTimeParam accepts RFC3339 timestamps and raw epoch seconds.
func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
