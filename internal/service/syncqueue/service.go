// Package syncqueue appends outbound CRM jobs and exposes the operator
// actions on the queue.
package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
	apperrors "github.com/jwalitptl/pos-sync/pkg/errors"
	"github.com/jwalitptl/pos-sync/pkg/logger"
	"github.com/jwalitptl/pos-sync/pkg/validator"
)

type SyncQueueServicer interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*model.SyncQueueEntry, error)
	EnqueueCustomer(ctx context.Context, customer *model.Customer, op model.Operation) (*model.SyncQueueEntry, error)
	EnqueueTransaction(ctx context.Context, txn *model.Transaction, op model.Operation) (*model.SyncQueueEntry, error)
	Reconcile(ctx context.Context, businessID uuid.UUID) (*ReconcileResult, error)
	ReconcileDefault(ctx context.Context, businessID *uuid.UUID) (*ReconcileResult, error)
	Stats(ctx context.Context, businessID *uuid.UUID) (model.QueueStats, error)
	ListFailed(ctx context.Context, businessID *uuid.UUID, limit int) ([]*model.SyncQueueEntry, error)
	RetryFailed(ctx context.Context, businessID *uuid.UUID, ids []uuid.UUID) (int64, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
	ResetStuck(ctx context.Context, stuckFor time.Duration) (int64, error)
}

// EnqueueRequest describes one outbound job. Payload is marshalled to JSON
// and stored as the enqueue-time snapshot.
type EnqueueRequest struct {
	BusinessID uuid.UUID        `json:"business_id" validate:"required"`
	EntityType model.EntityType `json:"entity_type" validate:"required,enum"`
	EntityID   uuid.UUID        `json:"entity_id" validate:"required"`
	Operation  model.Operation  `json:"operation" validate:"required,enum"`
	Priority   model.Priority   `json:"priority" validate:"omitempty,enum"`
	Payload    interface{}      `json:"payload,omitempty" validate:"-"`
}

type Service struct {
	store     *repository.Store
	validator validator.Validator
	logger    *logger.Logger
	now       func() time.Time
}

func NewService(store *repository.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:     store,
		validator: validator.New(),
		logger:    log.WithComponent("sync-queue"),
		now:       time.Now,
	}
}

// Enqueue inserts a PENDING row unless the entity already has a live one,
// in which case the live row is returned unchanged.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*model.SyncQueueEntry, error) {
	entry, _, err := s.enqueue(ctx, req)
	return entry, err
}

func (s *Service) enqueue(ctx context.Context, req EnqueueRequest) (*model.SyncQueueEntry, bool, error) {
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, false, apperrors.BadRequest("invalid sync queue entry", err)
	}

	if _, err := s.store.Businesses.Get(ctx, req.BusinessID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, apperrors.NotFound("business", err)
		}
		return nil, false, fmt.Errorf("failed to load business: %w", err)
	}

	payload := json.RawMessage(`{}`)
	if req.Payload != nil {
		raw, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, false, apperrors.BadRequest("payload is not serializable", err)
		}
		payload = raw
	}

	now := s.now()
	entry, created, err := s.store.Queue.InsertIfNoLive(ctx, &model.SyncQueueEntry{
		BusinessID:   req.BusinessID,
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		Operation:    req.Operation,
		Priority:     req.Priority,
		Payload:      payload,
		ScheduledFor: now,
		CreatedAt:    now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue %s %s: %w", req.EntityType, req.EntityID, err)
	}

	if created {
		s.logger.Debug("enqueued",
			"entity_type", string(entry.EntityType),
			"entity_id", entry.EntityID.String(),
			"operation", string(entry.Operation),
			"priority", string(entry.Priority))
	} else {
		s.logger.Debug("already queued",
			"entity_type", string(entry.EntityType),
			"entity_id", entry.EntityID.String(),
			"queue_id", entry.ID.String())
	}
	return entry, created, nil
}

// EnqueueCustomer is the customer write-path hook. Anonymous walk-in
// customers are never synced and yield (nil, nil).
func (s *Service) EnqueueCustomer(ctx context.Context, customer *model.Customer, op model.Operation) (*model.SyncQueueEntry, error) {
	if customer == nil {
		return nil, apperrors.BadRequest("customer is required", nil)
	}
	if customer.IsAnonymous {
		return nil, nil
	}
	snapshot := customer.Snapshot()
	if op == model.OperationDelete {
		snapshot.Deleted = true
	}
	return s.Enqueue(ctx, EnqueueRequest{
		BusinessID: customer.BusinessID,
		EntityType: model.EntityCustomer,
		EntityID:   customer.ID,
		Operation:  op,
		Priority:   model.PriorityNormal,
		Payload:    snapshot,
	})
}

// EnqueueTransaction is the sale write-path hook. Sales of anonymous
// customers are never synced and yield (nil, nil).
func (s *Service) EnqueueTransaction(ctx context.Context, txn *model.Transaction, op model.Operation) (*model.SyncQueueEntry, error) {
	if txn == nil {
		return nil, apperrors.BadRequest("transaction is required", nil)
	}

	var customer *model.Customer
	if txn.CustomerID != nil {
		c, err := s.store.Customers.Get(ctx, *txn.CustomerID)
		switch {
		case err == nil:
			if c.IsAnonymous {
				return nil, nil
			}
			customer = c
		case !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("failed to load transaction customer: %w", err)
		}
	}

	return s.Enqueue(ctx, EnqueueRequest{
		BusinessID: txn.BusinessID,
		EntityType: model.EntityTransaction,
		EntityID:   txn.ID,
		Operation:  op,
		Priority:   model.PriorityNormal,
		Payload:    txn.Snapshot(customer),
	})
}
