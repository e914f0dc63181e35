package syncqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
	apperrors "github.com/jwalitptl/pos-sync/pkg/errors"
)

// ReconcileResult reports one catch-up sweep.
type ReconcileResult struct {
	BusinessID uuid.UUID            `json:"business_id"`
	Total      int                  `json:"total"`
	Added      int                  `json:"added"`
	Skipped    int                  `json:"skipped"`
	Failed     int                  `json:"failed"`
	Customers  []ReconciledCustomer `json:"customers"`
	Errors     []ReconcileError     `json:"errors,omitempty"`
}

// ReconcileError is a customer the sweep could not queue.
type ReconcileError struct {
	ID    uuid.UUID `json:"id"`
	Error string    `json:"error"`
}

// ReconciledCustomer is a customer the sweep queued.
type ReconciledCustomer struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email,omitempty"`
}

// Reconcile enqueues a HIGH priority CREATE for every active non-anonymous
// customer of the business that is not yet synced and has no live row.
// Running it again while those rows are live adds nothing. A customer that
// cannot be queued is reported in Errors and does not stop the sweep.
func (s *Service) Reconcile(ctx context.Context, businessID uuid.UUID) (*ReconcileResult, error) {
	if _, err := s.store.Businesses.Get(ctx, businessID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("business", err)
		}
		return nil, fmt.Errorf("failed to load business: %w", err)
	}

	customers, err := s.store.Customers.List(ctx, model.CustomerFilter{
		BusinessID:   businessID,
		UnsyncedOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced customers: %w", err)
	}

	result := &ReconcileResult{
		BusinessID: businessID,
		Total:      len(customers),
		Customers:  []ReconciledCustomer{},
	}
	for _, c := range customers {
		_, created, err := s.enqueue(ctx, EnqueueRequest{
			BusinessID: c.BusinessID,
			EntityType: model.EntityCustomer,
			EntityID:   c.ID,
			Operation:  model.OperationCreate,
			Priority:   model.PriorityHigh,
			Payload:    c.Snapshot(),
		})
		if err != nil {
			s.logger.Error(err, "failed to queue customer", "customer_id", c.ID.String())
			result.Failed++
			result.Errors = append(result.Errors, ReconcileError{ID: c.ID, Error: err.Error()})
			continue
		}
		if !created {
			result.Skipped++
			continue
		}

		result.Added++
		rc := ReconciledCustomer{ID: c.ID, Name: c.FullName()}
		if c.Email != nil {
			rc.Email = *c.Email
		}
		result.Customers = append(result.Customers, rc)
	}

	s.logger.Info("reconcile complete",
		"business_id", businessID.String(),
		"total", result.Total,
		"added", result.Added,
		"skipped", result.Skipped,
		"failed", result.Failed)
	return result, nil
}

// ReconcileDefault runs Reconcile on businessID, or on the first business
// when businessID is nil.
func (s *Service) ReconcileDefault(ctx context.Context, businessID *uuid.UUID) (*ReconcileResult, error) {
	if businessID != nil {
		return s.Reconcile(ctx, *businessID)
	}
	b, err := s.store.Businesses.First(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.BadRequest("no business found", err)
		}
		return nil, fmt.Errorf("failed to load default business: %w", err)
	}
	return s.Reconcile(ctx, b.ID)
}
