package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/pos-sync/pkg/errors"
	"github.com/jwalitptl/pos-sync/pkg/httputil"
)

// AdminToken guards operator routes with a static bearer token. An empty
// token disables the routes altogether.
func AdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			httputil.RespondWithError(c, apperrors.Configuration("admin token not configured"))
			return
		}

		authHeader := c.GetHeader("Authorization")
		bearer, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(bearer), []byte(token)) != 1 {
			httputil.RespondWithError(c, apperrors.Unauthorized(apperrors.ReasonUnauthorized, "invalid admin token", nil))
			return
		}
		c.Next()
	}
}
