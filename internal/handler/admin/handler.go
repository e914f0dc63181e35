package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	syncqueueService "github.com/jwalitptl/pos-sync/internal/service/syncqueue"
	apperrors "github.com/jwalitptl/pos-sync/pkg/errors"
	"github.com/jwalitptl/pos-sync/pkg/httputil"
)

const defaultFailedLimit = 50

type Handler struct {
	service syncqueueService.SyncQueueServicer
}

func NewHandler(service syncqueueService.SyncQueueServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/bulk-sync-customers", h.BulkSyncCustomers)

	queue := r.Group("/sync-queue")
	{
		queue.GET("/stats", h.Stats)
		queue.GET("/failed", h.ListFailed)
		queue.POST("/retry", h.RetryFailed)
	}
}

type retryRequest struct {
	IDs []string `json:"ids"`
}

// BulkSyncCustomers queues every unsynced customer of a business.
func (h *Handler) BulkSyncCustomers(c *gin.Context) {
	businessID, ok := businessParam(c)
	if !ok {
		return
	}

	result, err := h.service.ReconcileDefault(c.Request.Context(), businessID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, "customers queued for sync", result)
}

func (h *Handler) Stats(c *gin.Context) {
	businessID, ok := businessParam(c)
	if !ok {
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), businessID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, "", stats)
}

func (h *Handler) ListFailed(c *gin.Context) {
	businessID, ok := businessParam(c)
	if !ok {
		return
	}

	limit := defaultFailedLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.RespondWithError(c, apperrors.BadRequest("limit must be a positive integer", err))
			return
		}
		limit = n
	}

	entries, err := h.service.ListFailed(c.Request.Context(), businessID, limit)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, "", entries)
}

// RetryFailed requeues FAILED rows. An empty id list requeues all of them.
func (h *Handler) RetryFailed(c *gin.Context) {
	businessID, ok := businessParam(c)
	if !ok {
		return
	}

	var req retryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
			return
		}
	}

	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			httputil.RespondWithError(c, apperrors.BadRequest("invalid queue entry id: "+raw, err))
			return
		}
		ids = append(ids, id)
	}

	n, err := h.service.RetryFailed(c.Request.Context(), businessID, ids)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, "failed entries requeued", gin.H{"requeued": n})
}

func businessParam(c *gin.Context) (*uuid.UUID, bool) {
	raw := c.Query("business_id")
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid business_id", err))
		return nil, false
	}
	return &id, true
}
