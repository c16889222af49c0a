package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/approvals-api/internal/middleware"
	"github.com/noah-isme/approvals-api/internal/models"
	appErrors "github.com/noah-isme/approvals-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext returns the authenticated caller or nil for anonymous requests.
func actorFromContext(c *gin.Context) *models.Actor {
	return claimsFromContext(c).Actor()
}

// uuidParam returns the canonical form of a UUID path parameter. Anything else
// names no stored record and is reported as NotFound.
func uuidParam(c *gin.Context, name, resource string) (string, error) {
	raw := strings.TrimSpace(c.Param(name))
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", appErrors.WithResource(appErrors.Clone(appErrors.ErrNotFound, resource+" not found"), raw)
	}
	return parsed.String(), nil
}
