package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/spanlight/spanlight/pkg/models"
)

// listSpans handles GET /api/traces.
func (s *QueryServer) listSpans(c *gin.Context) {
	filters := models.SpanFilters{
		ServiceName: c.Query("service"),
		Endpoint:    c.Query("endpoint"),
		Model:       c.Query("model"),
		Status:      models.SpanStatus(c.Query("status")),
		Environment: models.Environment(c.Query("environment")),
	}
	if filters.Status != "" && !filters.Status.Valid() {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT", "status must be 'success' or 'error'")
		return
	}
	if filters.Environment != "" && !filters.Environment.Valid() {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT", "environment must be 'live' or 'test'")
		return
	}

	var ok bool
	if filters.StartTime, ok = parseTimeParam(c, "startTime"); !ok {
		return
	}
	if filters.EndTime, ok = parseTimeParam(c, "endTime"); !ok {
		return
	}
	if filters.Limit, ok = parseIntParam(c, "limit", 50); !ok {
		return
	}
	if filters.Offset, ok = parseIntParam(c, "offset", 0); !ok {
		return
	}
	if filters.Limit > s.cfg.MaxPageSize {
		filters.Limit = s.cfg.MaxPageSize
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	page, err := s.spans.List(ctx, customerID(c), filters)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// getTrace handles GET /api/traces/:trace_id, returning the reconstructed
// span tree.
func (s *QueryServer) getTrace(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	tree, err := s.traces.GetTrace(ctx, c.Param("trace_id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	// Traces are customer-scoped; another tenant's trace looks absent.
	if tree.CustomerID != customerID(c) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "resource not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"trace": tree})
}

// parseTimeParam reads an RFC 3339 query parameter. A missing parameter
// yields nil; a malformed one writes a 400 and reports !ok.
func parseTimeParam(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT", name+" must be an RFC 3339 timestamp")
		return nil, false
	}
	return &t, true
}

// parseIntParam reads a non-negative integer query parameter with a default.
func parseIntParam(c *gin.Context, name string, defaultVal int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return defaultVal, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT", name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
