package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/pos-sync/pkg/auth"
)

const crmIssuer = "ayende-crm"

func integrationEngine(tokens auth.JWTService) *gin.Engine {
	r := gin.New()
	r.GET("/integration", IntegrationAuth(tokens), func(c *gin.Context) {
		c.String(http.StatusOK, TenantID(c))
	})
	return r
}

func TestIntegrationAuth(t *testing.T) {
	tokens := auth.NewJWTService(secret, crmIssuer, 0)
	valid, err := tokens.GenerateIntegrationToken("tenant-1")
	require.NoError(t, err)
	untenanted, err := tokens.GenerateIntegrationToken("")
	require.NoError(t, err)
	wrongIssuer, err := auth.NewJWTService(secret, auth.DefaultIssuer, 0).GenerateIntegrationToken("tenant-1")
	require.NoError(t, err)
	wrongSecret, err := auth.NewJWTService("other", crmIssuer, 0).GenerateIntegrationToken("tenant-1")
	require.NoError(t, err)

	tests := []struct {
		name       string
		auth       string
		tenant     string
		wantStatus int
		wantCode   string
	}{
		{name: "valid", auth: "Bearer " + valid, tenant: "tenant-1", wantStatus: http.StatusOK},
		{name: "token without tenant", auth: "Bearer " + untenanted, tenant: "tenant-1", wantStatus: http.StatusOK},
		{name: "missing header", tenant: "tenant-1", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "not bearer", auth: "Basic abc", tenant: "tenant-1", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "garbage token", auth: "Bearer abc", tenant: "tenant-1", wantStatus: http.StatusUnauthorized, wantCode: "INVALID_TOKEN"},
		{name: "pos issued token", auth: "Bearer " + wrongIssuer, tenant: "tenant-1", wantStatus: http.StatusUnauthorized, wantCode: "INVALID_TOKEN"},
		{name: "wrong secret", auth: "Bearer " + wrongSecret, tenant: "tenant-1", wantStatus: http.StatusUnauthorized, wantCode: "INVALID_TOKEN"},
		{name: "missing tenant", auth: "Bearer " + valid, wantStatus: http.StatusBadRequest, wantCode: "MISSING_TENANT"},
		{name: "tenant mismatch", auth: "Bearer " + valid, tenant: "tenant-2", wantStatus: http.StatusForbidden, wantCode: "TENANT_MISMATCH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/integration", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			if tt.tenant != "" {
				req.Header.Set("X-Tenant-ID", tt.tenant)
			}
			w := httptest.NewRecorder()
			integrationEngine(tokens).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode == "" {
				assert.Equal(t, tt.tenant, w.Body.String())
				return
			}
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
		})
	}
}

func TestIntegrationAuthWithoutSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/integration", nil)
	req.Header.Set("Authorization", "Bearer abc")
	req.Header.Set("X-Tenant-ID", "tenant-1")
	w := httptest.NewRecorder()
	integrationEngine(auth.NewJWTService("", crmIssuer, 0)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "CONFIGURATION_ERROR", decodeError(t, w).Code)
}
