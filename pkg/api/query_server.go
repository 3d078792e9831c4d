package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spanlight/spanlight/pkg/config"
	"github.com/spanlight/spanlight/pkg/database"
	"github.com/spanlight/spanlight/pkg/services"
)

// QueryServer is the read-side HTTP surface: trace listings, analytics,
// alerts, and operational endpoints.
type QueryServer struct {
	cfg       *config.QueryConfig
	db        *database.Client
	keys      *services.APIKeyService
	spans     *services.SpanService
	traces    *services.TraceService
	analytics *services.AnalyticsService
	alerts    *services.AlertService
}

// NewQueryServer creates the query server.
func NewQueryServer(
	cfg *config.QueryConfig,
	db *database.Client,
	keys *services.APIKeyService,
	spans *services.SpanService,
	traces *services.TraceService,
	analytics *services.AnalyticsService,
	alerts *services.AlertService,
) *QueryServer {
	return &QueryServer{
		cfg:       cfg,
		db:        db,
		keys:      keys,
		spans:     spans,
		traces:    traces,
		analytics: analytics,
		alerts:    alerts,
	}
}

// Router builds the gin engine with all query routes registered.
func (s *QueryServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders(), observeRequests())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api", bearerAuth(s.keys))
	apiGroup.GET("/traces", s.listSpans)
	apiGroup.GET("/traces/:trace_id", s.getTrace)
	apiGroup.GET("/analytics/timeline", s.timeline)
	apiGroup.GET("/analytics/breakdown", s.breakdown)
	apiGroup.GET("/analytics/percentiles", s.percentiles)
	apiGroup.GET("/analytics/summary", s.summary)
	apiGroup.GET("/alerts", s.listAlerts)
	apiGroup.POST("/alerts/:alert_id/status", s.updateAlertStatus)

	return r
}

// requestContext bounds a store round-trip by the configured timeout while
// staying cancellable by client disconnect.
func (s *QueryServer) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
}

func (s *QueryServer) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": dbHealth})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": dbHealth})
}
