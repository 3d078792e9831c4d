package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/spanlight/spanlight/pkg/config"
	"github.com/spanlight/spanlight/pkg/database"
	"github.com/spanlight/spanlight/pkg/ingest"
	"github.com/spanlight/spanlight/pkg/metrics"
	"github.com/spanlight/spanlight/pkg/models"
	"github.com/spanlight/spanlight/pkg/queue"
	"github.com/spanlight/spanlight/pkg/services"
)

// ReceiverServer is the ingest HTTP surface.
type ReceiverServer struct {
	cfg      *config.ReceiverConfig
	receiver *ingest.Receiver
	keys     *services.APIKeyService
	db       *database.Client
	pool     *queue.WorkerPool
}

// NewReceiverServer creates the ingest server.
func NewReceiverServer(
	cfg *config.ReceiverConfig,
	receiver *ingest.Receiver,
	keys *services.APIKeyService,
	db *database.Client,
	pool *queue.WorkerPool,
) *ReceiverServer {
	return &ReceiverServer{cfg: cfg, receiver: receiver, keys: keys, db: db, pool: pool}
}

// Router builds the gin engine with all ingest routes registered.
func (s *ReceiverServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders())

	r.GET("/healthz", s.health)

	v1 := r.Group("/v1", bearerAuth(s.keys))
	v1.POST("/traces", s.ingestTraces)

	return r
}

type ingestRequest struct {
	Traces []*models.Span `json:"traces"`
}

// ingestTraces accepts one span batch. The response is 202 with per-span
// outcomes; only malformed JSON, auth failures, and backpressure produce
// non-202 statuses.
func (s *ReceiverServer) ingestTraces(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON envelope with a traces array")
		return
	}
	if len(req.Traces) == 0 {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "traces must be a non-empty array")
		return
	}

	result, err := s.receiver.Ingest(c.Request.Context(), customerID(c), req.Traces)
	if err != nil {
		if errors.Is(err, ingest.ErrBackpressure) {
			metrics.IngestRequests.WithLabelValues("backpressure").Inc()
			writeError(c, http.StatusServiceUnavailable, ingest.CodeBackpressure,
				"ingest queue is saturated, retry with backoff")
			return
		}
		mapServiceError(c, err)
		return
	}

	metrics.IngestSpans.WithLabelValues("accepted").Add(float64(result.TracesReceived))
	for _, e := range result.Errors {
		metrics.IngestSpans.WithLabelValues(e.Code).Inc()
	}
	if result.Success {
		metrics.IngestRequests.WithLabelValues("accepted").Inc()
	} else {
		metrics.IngestRequests.WithLabelValues("partial").Inc()
	}

	c.JSON(http.StatusAccepted, result)
}

// health reports store reachability and worker pool state.
func (s *ReceiverServer) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())
	poolHealth := s.pool.Health()

	status := http.StatusOK
	state := "healthy"
	if err != nil || !poolHealth.IsHealthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":   state,
		"database": dbHealth,
		"pool":     poolHealth,
	})
}
