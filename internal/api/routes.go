package api

import (
	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/marketpulse/internal/logger"
	"github.com/jonesrussell/marketpulse/internal/metrics"
	"github.com/jonesrussell/marketpulse/internal/ratelimit"
)

// Options carries the router switches that come from configuration.
type Options struct {
	Debug          bool
	AllowedOrigins []string
	// JWTSecret guards the admin group. Empty leaves it open.
	JWTSecret string
}

// NewRouter builds the gin engine with the full middleware chain and all
// routes. Probes and /metrics sit outside the rate-limited group so
// monitoring never competes with clients for quota.
func NewRouter(
	h *Handler,
	limiter *ratelimit.Limiter,
	m *metrics.Metrics,
	log logger.Logger,
	opts Options,
) *gin.Engine {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(Recovery(log))
	router.Use(RequestID())
	router.Use(RequestLogger(log))
	router.Use(Measure(m))
	router.Use(CORS(opts.AllowedOrigins))

	// Health and readiness checks
	router.GET("/health", h.Health)
	router.GET("/health/ready", h.Ready)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(RateLimit(limiter, m, log))
	{
		v1.GET("/query", h.Query)

		admin := v1.Group("/admin")
		if opts.JWTSecret != "" {
			admin.Use(Auth(opts.JWTSecret))
		}
		{
			admin.POST("/ingest/:task", h.TriggerIngest) // POST /api/v1/admin/ingest/:task
			admin.GET("/tasks", h.Tasks)                 // GET  /api/v1/admin/tasks
			admin.GET("/runs/:id", h.RunStatus)          // GET  /api/v1/admin/runs/:id
			admin.DELETE("/cache", h.FlushCache)         // DELETE /api/v1/admin/cache
			admin.GET("/stats", h.AdminStats)            // GET  /api/v1/admin/stats
			admin.POST("/ratelimit/reset", h.ResetRateLimit)
		}
	}

	return router
}
