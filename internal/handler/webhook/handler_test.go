package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
	"github.com/jwalitptl/pos-sync/internal/repository/memory"
	webhookService "github.com/jwalitptl/pos-sync/internal/service/webhook"
	"github.com/jwalitptl/pos-sync/pkg/httputil"
	"github.com/jwalitptl/pos-sync/pkg/metrics"
	"github.com/jwalitptl/pos-sync/pkg/signature"
)

const (
	secret = "hook-secret"
	tenant = "9b2f6c1e-0000-4000-8000-000000000001"
)

type fixture struct {
	engine   *gin.Engine
	db       *memory.DB
	store    *repository.Store
	business *model.Business
	metrics  *metrics.Metrics
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := memory.NewDB()
	store := memory.NewStore(db)
	b := db.AddBusiness(&model.Business{Name: "Corner Shop", ExternalTenantID: model.StringPtr(tenant)})
	m := metrics.NewMetrics("test", prometheus.NewRegistry())

	h := NewHandler(webhookService.NewService(store, nil, nil), secret, 1<<20, nil, m)
	engine := gin.New()
	h.RegisterRoutes(engine.Group("/webhook"))

	return &fixture{engine: engine, db: db, store: store, business: b, metrics: m}
}

func (f *fixture) post(t *testing.T, path string, body interface{}, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	return f.postAs(t, tenant, path, body, sign)
}

func (f *fixture) postAs(t *testing.T, tenantID, path string, body interface{}, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTenantID, tenantID)
	if sign {
		req.Header.Set(signature.Header, signature.Sign(raw, secret))
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCustomerCreatedLinks(t *testing.T) {
	f := setup(t)
	c := f.db.CreateCustomer(&model.Customer{BusinessID: f.business.ID, FirstName: "Ada", Email: model.StringPtr("a@x.com"), IsActive: true})

	w := f.post(t, "/webhook/customer-created", gin.H{
		"customer": gin.H{"id": "crm-1", "email": "a@x.com"},
	}, true)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]interface{}{"linked": true}, resp.Data)

	got, err := f.store.Customers.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExternalID)
	assert.Equal(t, "crm-1", *got.ExternalID)
	assert.Equal(t, 1.0, counterValue(t, f.metrics.WebhooksReceived.WithLabelValues("customer-created", "linked")))
}

func TestCustomerCreatedUnmatched(t *testing.T) {
	f := setup(t)

	w := f.post(t, "/webhook/customer-created", gin.H{
		"customer": gin.H{"id": "crm-1", "email": "nobody@x.com"},
	}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"linked": false}, decode(t, w).Data)
}

func TestUnsignedRequestIsRejected(t *testing.T) {
	f := setup(t)
	c := f.db.CreateCustomer(&model.Customer{BusinessID: f.business.ID, Email: model.StringPtr("a@x.com"), IsActive: true})

	w := f.post(t, "/webhook/customer-created", gin.H{
		"customer": gin.H{"id": "crm-1", "email": "a@x.com"},
	}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "MISSING_SIGNATURE", decode(t, w).Error.Code)

	got, err := f.store.Customers.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExternalID)
}

func TestMissingTenantHeader(t *testing.T) {
	f := setup(t)
	raw := []byte(`{"customer":{"id":"crm-1"}}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook/customer-created", bytes.NewReader(raw))
	req.Header.Set(signature.Header, signature.Sign(raw, secret))
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_TENANT", decode(t, w).Error.Code)
}

func TestInvalidJSON(t *testing.T) {
	f := setup(t)
	raw := []byte(`{"customer":`)

	req := httptest.NewRequest(http.MethodPost, "/webhook/customer-updated", bytes.NewReader(raw))
	req.Header.Set(HeaderTenantID, tenant)
	req.Header.Set(signature.Header, signature.Sign(raw, secret))
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCustomerUpdatedNotFound(t *testing.T) {
	f := setup(t)

	w := f.post(t, "/webhook/customer-updated", gin.H{
		"customer": gin.H{"id": "crm-404", "email": "ghost@x.com"},
	}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, decode(t, w).Success)
}

func TestCustomerUpdatedMerges(t *testing.T) {
	f := setup(t)
	c := f.db.CreateCustomer(&model.Customer{
		BusinessID:    f.business.ID,
		FirstName:     "Ada",
		Email:         model.StringPtr("a@x.com"),
		ExternalID:    model.StringPtr("crm-1"),
		LoyaltyPoints: 10,
		IsActive:      true,
	})

	w := f.post(t, "/webhook/customer-updated", gin.H{
		"customer": gin.H{"id": "crm-1", "first_name": "Other", "loyalty_points": 150, "loyalty_tier": "GOLD"},
	}, true)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := f.store.Customers.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 150, got.LoyaltyPoints)
	assert.Equal(t, "GOLD", got.LoyaltyTier)
	assert.Equal(t, "Ada", got.FirstName)
}

func TestCustomerDeletedIdempotent(t *testing.T) {
	f := setup(t)
	c := f.db.CreateCustomer(&model.Customer{BusinessID: f.business.ID, Email: model.StringPtr("a@x.com"), IsActive: true})
	f.post(t, "/webhook/customer-created", gin.H{"customer": gin.H{"id": "crm-1", "email": "a@x.com"}}, true)

	for i := 0; i < 2; i++ {
		w := f.post(t, "/webhook/customer-deleted", gin.H{"customer_id": "crm-1"}, true)
		require.Equal(t, http.StatusOK, w.Code)
	}

	got, err := f.store.Customers.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.ExternalID)
}

func TestCustomerDeletedUnknownBusiness(t *testing.T) {
	f := setup(t)
	c := f.db.CreateCustomer(&model.Customer{BusinessID: f.business.ID, ExternalID: model.StringPtr("crm-x"), IsActive: true})

	tests := []struct {
		name     string
		tenantID string
		body     gin.H
	}{
		{
			name:     "unknown pos business id",
			tenantID: tenant,
			body:     gin.H{"customer_id": "crm-x", "pos_business_id": "00000000-0000-4000-8000-00000000dead"},
		},
		{
			name:     "unknown tenant",
			tenantID: "9b2f6c1e-0000-4000-8000-0000000000ff",
			body:     gin.H{"customer_id": "crm-x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.postAs(t, tt.tenantID, "/webhook/customer-deleted", tt.body, true)
			require.Equal(t, http.StatusOK, w.Code)
			resp := decode(t, w)
			assert.True(t, resp.Success)
			assert.Equal(t, map[string]interface{}{"linked": false}, resp.Data)
		})
	}

	got, err := f.store.Customers.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	require.NotNil(t, got.ExternalID)
	assert.Equal(t, "crm-x", *got.ExternalID)
}

func TestCustomerDeletedTenantMismatch(t *testing.T) {
	f := setup(t)

	w := f.postAs(t, "9b2f6c1e-0000-4000-8000-0000000000ff", "/webhook/customer-deleted", gin.H{
		"customer_id":     "crm-x",
		"pos_business_id": f.business.ID.String(),
	}, true)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "TENANT_MISMATCH", decode(t, w).Error.Code)
}

func TestCustomerDeletedRequiresID(t *testing.T) {
	f := setup(t)

	w := f.post(t, "/webhook/customer-deleted", gin.H{}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	f := setup(t)

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhook/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status    string   `json:"status"`
		Endpoints []string `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, []string{
		"/webhook/customer-created",
		"/webhook/customer-updated",
		"/webhook/customer-deleted",
	}, body.Endpoints)
}
