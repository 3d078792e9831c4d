package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spanlight/spanlight/pkg/models"
	"github.com/spanlight/spanlight/pkg/services"
)

// parseRange reads the optional startTime/endTime parameters shared by all
// analytics endpoints.
func parseRange(c *gin.Context) (models.TimeRange, bool) {
	var r models.TimeRange
	start, ok := parseTimeParam(c, "startTime")
	if !ok {
		return r, false
	}
	end, ok := parseTimeParam(c, "endTime")
	if !ok {
		return r, false
	}
	if start != nil {
		r.Start = *start
	}
	if end != nil {
		r.End = *end
	}
	return r, true
}

// timeline handles GET /api/analytics/timeline.
func (s *QueryServer) timeline(c *gin.Context) {
	r, ok := parseRange(c)
	if !ok {
		return
	}
	granularity := models.Granularity(c.DefaultQuery("granularity", string(models.GranularityHour)))
	if !granularity.Valid() {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT",
			"granularity must be one of hour, day, week, month")
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	points, err := s.analytics.Timeline(ctx, customerID(c), r, granularity)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": points})
}

// breakdown handles GET /api/analytics/breakdown.
func (s *QueryServer) breakdown(c *gin.Context) {
	r, ok := parseRange(c)
	if !ok {
		return
	}
	dimension := models.Dimension(c.DefaultQuery("dimension", string(models.DimensionService)))
	if !dimension.Valid() {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT",
			"dimension must be one of service, model, endpoint, provider")
		return
	}
	limit, ok := parseIntParam(c, "limit", 0)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	rows, err := s.analytics.Breakdown(ctx, customerID(c), dimension, r, limit)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// percentiles handles GET /api/analytics/percentiles.
func (s *QueryServer) percentiles(c *gin.Context) {
	r, ok := parseRange(c)
	if !ok {
		return
	}
	filters := services.PercentileFilters{
		ServiceName: c.Query("service"),
		Endpoint:    c.Query("endpoint"),
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	result, err := s.analytics.Percentiles(ctx, customerID(c), filters, r)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// summary handles GET /api/analytics/summary.
func (s *QueryServer) summary(c *gin.Context) {
	r, ok := parseRange(c)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	result, err := s.analytics.Summary(ctx, customerID(c), r)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
