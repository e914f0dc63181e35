// Package integration serves the token-authenticated API the CRM calls
// directly, as opposed to the signed webhooks.
package integration

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/pos-sync/internal/middleware"
	"github.com/jwalitptl/pos-sync/internal/model"
	syncqueueService "github.com/jwalitptl/pos-sync/internal/service/syncqueue"
	webhookService "github.com/jwalitptl/pos-sync/internal/service/webhook"
	"github.com/jwalitptl/pos-sync/pkg/crm"
	apperrors "github.com/jwalitptl/pos-sync/pkg/errors"
	"github.com/jwalitptl/pos-sync/pkg/httputil"
)

// CustomerServicer is satisfied by *webhook.Service.
type CustomerServicer interface {
	ResolveBusiness(ctx context.Context, tenantID, posBusinessID string) (*model.Business, error)
	UpdateMarketingPrefs(ctx context.Context, tenantID string, req *webhookService.MarketingPrefs) (*model.Customer, error)
}

// HealthChecker is satisfied by *crm.Client.
type HealthChecker interface {
	Health(ctx context.Context) *crm.HealthResult
}

type Handler struct {
	customers CustomerServicer
	queue     syncqueueService.SyncQueueServicer
	crm       HealthChecker
	now       func() time.Time
}

// NewHandler builds the integration handler. A nil checker reports the CRM
// as unreachable.
func NewHandler(customers CustomerServicer, queue syncqueueService.SyncQueueServicer, checker HealthChecker) *Handler {
	return &Handler{customers: customers, queue: queue, crm: checker, now: time.Now}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/health", h.Health)
	r.GET("/sync-status", h.SyncStatus)
	r.POST("/marketing-prefs", h.MarketingPrefs)
}

type healthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	CRMReachable bool      `json:"crm_reachable"`
	TenantID     string    `json:"tenant_id"`
}

func (h *Handler) Health(c *gin.Context) {
	reachable := false
	if h.crm != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		reachable = h.crm.Health(ctx).OK
	}
	httputil.RespondWithSuccess(c, http.StatusOK, "", healthResponse{
		Status:       "healthy",
		Timestamp:    h.now().UTC(),
		CRMReachable: reachable,
		TenantID:     middleware.TenantID(c),
	})
}

type syncStatusResponse struct {
	model.QueueStats
	BusinessID string `json:"business_id"`
	TenantID   string `json:"tenant_id"`
}

// SyncStatus reports the outbound queue of the tenant's business.
func (h *Handler) SyncStatus(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	b, err := h.customers.ResolveBusiness(c.Request.Context(), tenantID, "")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	stats, err := h.queue.Stats(c.Request.Context(), &b.ID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, "", syncStatusResponse{
		QueueStats: stats,
		BusinessID: b.ID.String(),
		TenantID:   tenantID,
	})
}

type marketingPrefsResponse struct {
	CustomerID     string `json:"customerId"`
	MarketingOptIn bool   `json:"marketingOptIn"`
}

func (h *Handler) MarketingPrefs(c *gin.Context) {
	var req webhookService.MarketingPrefs
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	customer, err := h.customers.UpdateMarketingPrefs(c.Request.Context(), middleware.TenantID(c), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, "marketing preferences updated", marketingPrefsResponse{
		CustomerID:     customer.ID.String(),
		MarketingOptIn: customer.MarketingOptIn,
	})
}
