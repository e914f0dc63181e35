package syncqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	apperrors "github.com/jwalitptl/pos-sync/pkg/errors"
)

func (s *Service) Stats(ctx context.Context, businessID *uuid.UUID) (model.QueueStats, error) {
	stats, err := s.store.Queue.CountByStatus(ctx, businessID)
	if err != nil {
		return stats, fmt.Errorf("failed to count queue: %w", err)
	}
	return stats, nil
}

func (s *Service) ListFailed(ctx context.Context, businessID *uuid.UUID, limit int) ([]*model.SyncQueueEntry, error) {
	status := model.QueueStatusFailed
	entries, err := s.store.Queue.List(ctx, model.QueueEntryFilter{
		BusinessID: businessID,
		Status:     &status,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list failed entries: %w", err)
	}
	return entries, nil
}

// RetryFailed returns FAILED rows to PENDING with a fresh retry budget.
// Empty ids retries every FAILED row in scope.
func (s *Service) RetryFailed(ctx context.Context, businessID *uuid.UUID, ids []uuid.UUID) (int64, error) {
	n, err := s.store.Queue.RequeueFailed(ctx, businessID, ids, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue failed entries: %w", err)
	}
	s.logger.Info("requeued failed entries", "count", n)
	return n, nil
}

// Cleanup deletes COMPLETED rows processed more than olderThan ago.
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, apperrors.BadRequest("cleanup age must be positive", nil)
	}
	n, err := s.store.Queue.DeleteCompletedBefore(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up queue: %w", err)
	}
	if n > 0 {
		s.logger.Info("cleaned up completed entries", "count", n)
	}
	return n, nil
}

// ResetStuck returns rows left PROCESSING for longer than stuckFor to RETRY.
func (s *Service) ResetStuck(ctx context.Context, stuckFor time.Duration) (int64, error) {
	if stuckFor <= 0 {
		return 0, apperrors.BadRequest("stuck threshold must be positive", nil)
	}
	now := s.now()
	n, err := s.store.Queue.ResetStuck(ctx, now.Add(-stuckFor), now)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck entries: %w", err)
	}
	if n > 0 {
		s.logger.Warn("reset stuck entries", "count", n)
	}
	return n, nil
}
