package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
)

type syncQueueRepository struct {
	db *DB
}

// liveLocked returns the live row for the entity. Caller holds the lock.
func (r *syncQueueRepository) liveLocked(entityType model.EntityType, entityID uuid.UUID) *model.SyncQueueEntry {
	for _, e := range r.db.queue {
		if e.EntityType == entityType && e.EntityID == entityID && e.Status.Live() {
			return e
		}
	}
	return nil
}

func (r *syncQueueRepository) InsertIfNoLive(ctx context.Context, entry *model.SyncQueueEntry) (*model.SyncQueueEntry, bool, error) {
	if entry == nil {
		return nil, false, fmt.Errorf("queue entry cannot be nil")
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if live := r.liveLocked(entry.EntityType, entry.EntityID); live != nil {
		return copyEntry(live), false, nil
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if len(entry.Payload) == 0 {
		entry.Payload = []byte(`{}`)
	}
	stored := copyEntry(entry)
	stored.Status = model.QueueStatusPending
	stored.RetryCount = 0
	stored.ErrorMessage = nil
	stored.ProcessedAt = nil
	stored.UpdatedAt = stored.CreatedAt

	r.db.seq++
	r.db.queueSeq[stored.ID] = r.db.seq
	r.db.queue[stored.ID] = stored
	return copyEntry(stored), true, nil
}

func (r *syncQueueRepository) Get(ctx context.Context, id uuid.UUID) (*model.SyncQueueEntry, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	e, ok := r.db.queue[id]
	if !ok {
		return nil, fmt.Errorf("get sync queue entry: %w", repository.ErrNotFound)
	}
	return copyEntry(e), nil
}

func (r *syncQueueRepository) FindLive(ctx context.Context, entityType model.EntityType, entityID uuid.UUID) (*model.SyncQueueEntry, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	if live := r.liveLocked(entityType, entityID); live != nil {
		return copyEntry(live), nil
	}
	return nil, fmt.Errorf("find live sync queue entry: %w", repository.ErrNotFound)
}

// sortDequeue orders rows by priority rank, scheduled time, creation time
// and finally insertion order.
func (r *syncQueueRepository) sortDequeue(entries []*model.SyncQueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if !a.ScheduledFor.Equal(b.ScheduledFor) {
			return a.ScheduledFor.Before(b.ScheduledFor)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return r.db.queueSeq[a.ID] < r.db.queueSeq[b.ID]
	})
}

func (r *syncQueueRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.SyncQueueEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var due []*model.SyncQueueEntry
	for _, e := range r.db.queue {
		if (e.Status == model.QueueStatusPending || e.Status == model.QueueStatusRetry) && !e.ScheduledFor.After(now) {
			due = append(due, e)
		}
	}
	r.sortDequeue(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*model.SyncQueueEntry, 0, len(due))
	for _, e := range due {
		e.Status = model.QueueStatusProcessing
		e.UpdatedAt = now
		claimed = append(claimed, copyEntry(e))
	}
	return claimed, nil
}

// processingLocked returns the row when it is PROCESSING. Caller holds the lock.
func (r *syncQueueRepository) processingLocked(id uuid.UUID, op string) (*model.SyncQueueEntry, error) {
	e, ok := r.db.queue[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	if e.Status != model.QueueStatusProcessing {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrStaleState)
	}
	return e, nil
}

func (r *syncQueueRepository) MarkCompleted(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	e, err := r.processingLocked(id, "mark sync queue entry completed")
	if err != nil {
		return err
	}
	e.Status = model.QueueStatusCompleted
	e.ProcessedAt = model.TimePtr(processedAt)
	e.ErrorMessage = nil
	e.UpdatedAt = processedAt
	return nil
}

func (r *syncQueueRepository) MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, scheduledFor time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	e, err := r.processingLocked(id, "mark sync queue entry retry")
	if err != nil {
		return err
	}
	e.Status = model.QueueStatusRetry
	e.RetryCount = retryCount
	e.ErrorMessage = model.StringPtr(errMsg)
	e.ScheduledFor = scheduledFor
	e.ProcessedAt = nil
	e.UpdatedAt = time.Now()
	return nil
}

func (r *syncQueueRepository) MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, processedAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	e, err := r.processingLocked(id, "mark sync queue entry failed")
	if err != nil {
		return err
	}
	e.Status = model.QueueStatusFailed
	e.RetryCount = retryCount
	e.ErrorMessage = model.StringPtr(errMsg)
	e.ProcessedAt = model.TimePtr(processedAt)
	e.UpdatedAt = processedAt
	return nil
}

func matchesFilter(e *model.SyncQueueEntry, businessID *uuid.UUID, status *model.QueueStatus, entityType *model.EntityType) bool {
	if businessID != nil && e.BusinessID != *businessID {
		return false
	}
	if status != nil && e.Status != *status {
		return false
	}
	if entityType != nil && e.EntityType != *entityType {
		return false
	}
	return true
}

func (r *syncQueueRepository) List(ctx context.Context, filter model.QueueEntryFilter) ([]*model.SyncQueueEntry, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var list []*model.SyncQueueEntry
	for _, e := range r.db.queue {
		if matchesFilter(e, filter.BusinessID, filter.Status, filter.EntityType) {
			list = append(list, e)
		}
	}
	r.sortDequeue(list)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(list) > limit {
		list = list[:limit]
	}
	out := make([]*model.SyncQueueEntry, len(list))
	for i, e := range list {
		out[i] = copyEntry(e)
	}
	return out, nil
}

func (r *syncQueueRepository) CountByStatus(ctx context.Context, businessID *uuid.UUID) (model.QueueStats, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var stats model.QueueStats
	for _, e := range r.db.queue {
		if matchesFilter(e, businessID, nil, nil) {
			stats.Add(e.Status, 1)
		}
	}
	return stats, nil
}

func (r *syncQueueRepository) RequeueFailed(ctx context.Context, businessID *uuid.UUID, ids []uuid.UUID, now time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	// Newest FAILED row per entity, so one requeue never yields two live rows.
	type entityKey struct {
		t  model.EntityType
		id uuid.UUID
	}
	newest := make(map[entityKey]*model.SyncQueueEntry)
	for _, e := range r.db.queue {
		if e.Status != model.QueueStatusFailed {
			continue
		}
		k := entityKey{e.EntityType, e.EntityID}
		if cur, ok := newest[k]; !ok || e.CreatedAt.After(cur.CreatedAt) {
			newest[k] = e
		}
	}

	var n int64
	for k, e := range newest {
		if !matchesFilter(e, businessID, nil, nil) {
			continue
		}
		if len(wanted) > 0 && !wanted[e.ID] {
			continue
		}
		if r.liveLocked(k.t, k.id) != nil {
			continue
		}
		e.Status = model.QueueStatusPending
		e.RetryCount = 0
		e.ErrorMessage = nil
		e.ScheduledFor = now
		e.ProcessedAt = nil
		e.UpdatedAt = now
		n++
	}
	return n, nil
}

func (r *syncQueueRepository) ResetStuck(ctx context.Context, before, now time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var n int64
	for _, e := range r.db.queue {
		if e.Status == model.QueueStatusProcessing && e.UpdatedAt.Before(before) {
			e.Status = model.QueueStatusRetry
			e.ScheduledFor = now
			e.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *syncQueueRepository) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var n int64
	for id, e := range r.db.queue {
		if e.Status == model.QueueStatusCompleted && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.db.queue, id)
			delete(r.db.queueSeq, id)
			n++
		}
	}
	return n, nil
}
