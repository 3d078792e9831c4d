package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spanlight/spanlight/pkg/models"
)

// listAlerts handles GET /api/alerts.
func (s *QueryServer) listAlerts(c *gin.Context) {
	// alertType is the documented parameter name; type is kept as an alias.
	typeFilter := c.Query("alertType")
	if typeFilter == "" {
		typeFilter = c.Query("type")
	}
	filters := models.AlertFilters{
		CustomerID: customerID(c),
		Status:     models.AlertStatus(c.Query("status")),
		Severity:   models.AlertSeverity(c.Query("severity")),
		AlertType:  models.AlertType(typeFilter),
	}
	if filters.Status != "" && !filters.Status.Valid() {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT", "unknown alert status")
		return
	}
	if filters.Severity != "" && !filters.Severity.Valid() {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT", "severity must be LOW, MEDIUM, or HIGH")
		return
	}
	if filters.AlertType != "" && !filters.AlertType.Valid() {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT", "unknown alert type")
		return
	}

	var ok bool
	if filters.Limit, ok = parseIntParam(c, "limit", 100); !ok {
		return
	}
	if filters.Offset, ok = parseIntParam(c, "offset", 0); !ok {
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	alerts, err := s.alerts.List(ctx, filters)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"data": alerts})
}

type alertStatusRequest struct {
	Status models.AlertStatus `json:"status"`
}

// updateAlertStatus handles POST /api/alerts/:alert_id/status. Illegal
// transitions come back as 409.
func (s *QueryServer) updateAlertStatus(c *gin.Context) {
	var req alertStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "request body must carry a status field")
		return
	}
	if !req.Status.Valid() {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT",
			"status must be one of pending, sent, acknowledged, resolved")
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	// Alerts are customer-scoped; a caller may only touch their own.
	existing, err := s.alerts.Get(ctx, c.Param("alert_id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if existing.CustomerID != customerID(c) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "resource not found")
		return
	}

	updated, err := s.alerts.UpdateStatus(ctx, existing.ID, req.Status)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
