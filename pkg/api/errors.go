// Package api exposes the two HTTP surfaces: the ingest receiver and the
// query/ops server.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spanlight/spanlight/pkg/services"
)

// errorBody is the uniform error envelope for both servers.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError aborts the request with the envelope.
func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	switch {
	case errors.As(err, &validErr):
		writeError(c, http.StatusBadRequest, "INVALID_INPUT", validErr.Error())
	case errors.Is(err, services.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, services.ErrInvalidTransition):
		writeError(c, http.StatusConflict, "INVALID_TRANSITION", "alert status transition not permitted")
	default:
		slog.Error("Unexpected service error", "path", c.FullPath(), "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
