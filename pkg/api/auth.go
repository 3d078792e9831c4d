package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/spanlight/spanlight/pkg/services"
)

// customerIDKey is the gin context key the auth middleware stores the
// resolved customer under.
const customerIDKey = "customer_id"

// bearerAuth resolves the Authorization bearer credential to a customer ID
// and injects it into the request context. Unknown or revoked keys get 401.
func bearerAuth(keys *services.APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer credential")
			return
		}

		customerID, err := keys.Resolve(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "unknown or revoked credential")
				return
			}
			slog.Error("Credential lookup failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
			return
		}

		c.Set(customerIDKey, customerID)
		c.Next()
	}
}

// customerID returns the authenticated customer for the request.
func customerID(c *gin.Context) string {
	return c.GetString(customerIDKey)
}
