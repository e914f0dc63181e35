package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/pos-sync/pkg/auth"
	apperrors "github.com/jwalitptl/pos-sync/pkg/errors"
	"github.com/jwalitptl/pos-sync/pkg/httputil"
)

const (
	ContextIntegrationClaims = "integration_claims"
	ContextTenantID          = "tenant_id"

	headerTenantID = "X-Tenant-ID"
)

// IntegrationAuth verifies the CRM's bearer token and the tenant it acts
// for. The X-Tenant-ID header is required and must match the token's
// tenantId claim when the token carries one.
func IntegrationAuth(tokens auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.RespondWithError(c, apperrors.Unauthorized(apperrors.ReasonUnauthorized, "missing authorization header", nil))
			return
		}

		bearer, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || bearer == "" {
			httputil.RespondWithError(c, apperrors.Unauthorized(apperrors.ReasonUnauthorized, "invalid authorization format", nil))
			return
		}

		claims, err := tokens.ValidateToken(bearer)
		if err != nil {
			if errors.Is(err, auth.ErrMissingSecret) {
				httputil.RespondWithError(c, apperrors.Configuration("integration secret not configured"))
				return
			}
			httputil.RespondWithError(c, apperrors.Unauthorized(apperrors.ReasonInvalidToken, "invalid token", err))
			return
		}

		tenantID := c.GetHeader(headerTenantID)
		if tenantID == "" {
			httputil.RespondWithError(c, &apperrors.AppError{
				Code:    apperrors.ErrBadRequest,
				Reason:  apperrors.ReasonMissingTenant,
				Message: "missing X-Tenant-ID header",
			})
			return
		}
		if claims.TenantID != "" && claims.TenantID != tenantID {
			httputil.RespondWithError(c, apperrors.Forbidden(apperrors.ReasonTenantMismatch, "token tenant does not match X-Tenant-ID"))
			return
		}

		c.Set(ContextIntegrationClaims, claims)
		c.Set(ContextTenantID, tenantID)
		c.Next()
	}
}

// TenantID returns the tenant accepted by IntegrationAuth.
func TenantID(c *gin.Context) string {
	return c.GetString(ContextTenantID)
}
