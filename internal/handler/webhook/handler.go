package webhook

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/pos-sync/internal/middleware"
	webhookService "github.com/jwalitptl/pos-sync/internal/service/webhook"
	apperrors "github.com/jwalitptl/pos-sync/pkg/errors"
	"github.com/jwalitptl/pos-sync/pkg/httputil"
	"github.com/jwalitptl/pos-sync/pkg/logger"
	"github.com/jwalitptl/pos-sync/pkg/metrics"
)

// HeaderTenantID names the CRM tenant the webhook belongs to.
const HeaderTenantID = "X-Tenant-ID"

type Handler struct {
	service webhookService.WebhookServicer
	secret  string
	maxBody int64
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewHandler(service webhookService.WebhookServicer, secret string, maxBody int64, log *logger.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		service: service,
		secret:  secret,
		maxBody: maxBody,
		logger:  log.WithComponent("webhook-handler"),
		metrics: m,
	}
}

// RegisterRoutes mounts the receiver on r. The signature check runs before
// any handler touches the body.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	hooks := r.Group("")
	{
		hooks.GET("/health", h.Health(hooks.BasePath()))

		signed := hooks.Group("", middleware.Signature(h.secret, h.maxBody))
		signed.POST("/"+webhookService.EventCustomerCreated, h.CustomerCreated)
		signed.POST("/"+webhookService.EventCustomerUpdated, h.CustomerUpdated)
		signed.POST("/"+webhookService.EventCustomerDeleted, h.CustomerDeleted)
	}
}

// Health lists the receiver paths under base.
func (h *Handler) Health(base string) gin.HandlerFunc {
	base = strings.TrimRight(base, "/")
	endpoints := []string{
		base + "/" + webhookService.EventCustomerCreated,
		base + "/" + webhookService.EventCustomerUpdated,
		base + "/" + webhookService.EventCustomerDeleted,
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"endpoints": endpoints,
		})
	}
}

func (h *Handler) CustomerCreated(c *gin.Context) {
	var evt webhookService.CustomerEvent
	if !h.decode(c, webhookService.EventCustomerCreated, &evt) {
		return
	}
	result, err := h.service.CustomerCreated(c.Request.Context(), c.GetHeader(HeaderTenantID), &evt)
	h.respond(c, webhookService.EventCustomerCreated, result, err)
}

func (h *Handler) CustomerUpdated(c *gin.Context) {
	var evt webhookService.CustomerEvent
	if !h.decode(c, webhookService.EventCustomerUpdated, &evt) {
		return
	}
	result, err := h.service.CustomerUpdated(c.Request.Context(), c.GetHeader(HeaderTenantID), &evt)
	h.respond(c, webhookService.EventCustomerUpdated, result, err)
}

func (h *Handler) CustomerDeleted(c *gin.Context) {
	var evt webhookService.DeletedEvent
	if !h.decode(c, webhookService.EventCustomerDeleted, &evt) {
		return
	}
	result, err := h.service.CustomerDeleted(c.Request.Context(), c.GetHeader(HeaderTenantID), &evt)
	h.respond(c, webhookService.EventCustomerDeleted, result, err)
}

// decode parses the verified raw body into v.
func (h *Handler) decode(c *gin.Context, event string, v interface{}) bool {
	if err := json.Unmarshal(middleware.RawBody(c), v); err != nil {
		h.observe(event, "rejected")
		httputil.RespondWithError(c, apperrors.BadRequest("invalid JSON body", err))
		return false
	}
	return true
}

func (h *Handler) respond(c *gin.Context, event string, result *webhookService.Result, err error) {
	if err != nil {
		if appErr, ok := apperrors.As(err); ok && appErr.HTTPStatus() < http.StatusInternalServerError {
			h.observe(event, "rejected")
			h.logger.Warn("Webhook rejected", "event", event, "reason", appErr.Reason, "message", appErr.Message)
		} else {
			h.observe(event, "error")
			h.logger.Error(err, "Webhook processing failed", "event", event)
		}
		httputil.RespondWithError(c, err)
		return
	}

	outcome := "acknowledged"
	if result.Linked {
		outcome = "linked"
	} else if result.Found {
		outcome = "applied"
	}
	h.observe(event, outcome)

	httputil.RespondWithSuccess(c, http.StatusOK, result.Message, gin.H{"linked": result.Linked})
}

func (h *Handler) observe(event, outcome string) {
	if h.metrics != nil {
		h.metrics.WebhooksReceived.WithLabelValues(event, outcome).Inc()
	}
}
