package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
)

const syncQueueColumns = `id, business_id, entity_type, entity_id, operation, priority, status,
	retry_count, payload, error_message, scheduled_for, created_at, updated_at, processed_at`

// liveStatusSQL must match the predicate of sync_queue_live_entity_idx.
const liveStatusSQL = `('PENDING', 'PROCESSING', 'RETRY')`

const priorityRankSQL = `CASE priority WHEN 'HIGH' THEN 0 WHEN 'NORMAL' THEN 1 ELSE 2 END`

type syncQueueRepository struct {
	BaseRepository
}

func NewSyncQueueRepository(base BaseRepository) repository.SyncQueueRepository {
	return &syncQueueRepository{base}
}

func (r *syncQueueRepository) InsertIfNoLive(ctx context.Context, entry *model.SyncQueueEntry) (*model.SyncQueueEntry, bool, error) {
	if entry == nil {
		return nil, false, fmt.Errorf("queue entry cannot be nil")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if len(entry.Payload) == 0 {
		entry.Payload = []byte(`{}`)
	}

	query := `
		INSERT INTO sync_queue (
			id, business_id, entity_type, entity_id, operation, priority, status,
			retry_count, payload, scheduled_for, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (entity_type, entity_id) WHERE status IN ` + liveStatusSQL + ` DO NOTHING
		RETURNING ` + syncQueueColumns

	// The conflicting live row can finish between our insert and the read
	// back, so try a few times before giving up.
	for attempt := 0; attempt < 3; attempt++ {
		var created model.SyncQueueEntry
		err := r.db.GetContext(ctx, &created, query,
			entry.ID,
			entry.BusinessID,
			entry.EntityType,
			entry.EntityID,
			entry.Operation,
			entry.Priority,
			model.QueueStatusPending,
			0,
			entry.Payload,
			entry.ScheduledFor,
			entry.CreatedAt,
		)
		if err == nil {
			return &created, true, nil
		}
		if mapped := mapError(err, "insert sync queue entry"); !errors.Is(mapped, repository.ErrNotFound) {
			return nil, false, mapped
		}

		existing, err := r.FindLive(ctx, entry.EntityType, entry.EntityID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("insert sync queue entry: live row kept changing")
}

func (r *syncQueueRepository) Get(ctx context.Context, id uuid.UUID) (*model.SyncQueueEntry, error) {
	query := `SELECT ` + syncQueueColumns + ` FROM sync_queue WHERE id = $1`
	var entry model.SyncQueueEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		return nil, mapError(err, "get sync queue entry")
	}
	return &entry, nil
}

func (r *syncQueueRepository) FindLive(ctx context.Context, entityType model.EntityType, entityID uuid.UUID) (*model.SyncQueueEntry, error) {
	query := `
		SELECT ` + syncQueueColumns + `
		FROM sync_queue
		WHERE entity_type = $1 AND entity_id = $2 AND status IN ` + liveStatusSQL + `
		LIMIT 1
	`
	var entry model.SyncQueueEntry
	if err := r.db.GetContext(ctx, &entry, query, entityType, entityID); err != nil {
		return nil, mapError(err, "find live sync queue entry")
	}
	return &entry, nil
}

func (r *syncQueueRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.SyncQueueEntry, error) {
	query := `
		UPDATE sync_queue
		SET status = 'PROCESSING', updated_at = $1
		WHERE id IN (
			SELECT id FROM sync_queue
			WHERE status IN ('PENDING', 'RETRY') AND scheduled_for <= $1
			ORDER BY ` + priorityRankSQL + `, scheduled_for ASC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + syncQueueColumns

	var entries []*model.SyncQueueEntry
	if err := r.db.SelectContext(ctx, &entries, query, now, limit); err != nil {
		return nil, mapError(err, "claim due sync queue entries")
	}

	// RETURNING does not preserve the sub-select order.
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if !a.ScheduledFor.Equal(b.ScheduledFor) {
			return a.ScheduledFor.Before(b.ScheduledFor)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return entries, nil
}

func (r *syncQueueRepository) MarkCompleted(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	query := `
		UPDATE sync_queue
		SET status = 'COMPLETED', processed_at = $2, error_message = NULL, updated_at = $2
		WHERE id = $1 AND status = 'PROCESSING'
	`
	res, err := r.db.ExecContext(ctx, query, id, processedAt)
	if err != nil {
		return mapError(err, "mark sync queue entry completed")
	}
	return expectOne(res, "mark sync queue entry completed")
}

func (r *syncQueueRepository) MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, scheduledFor time.Time) error {
	query := `
		UPDATE sync_queue
		SET status = 'RETRY', retry_count = $2, error_message = $3, scheduled_for = $4,
			processed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	res, err := r.db.ExecContext(ctx, query, id, retryCount, errMsg, scheduledFor)
	if err != nil {
		return mapError(err, "mark sync queue entry retry")
	}
	return expectOne(res, "mark sync queue entry retry")
}

func (r *syncQueueRepository) MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, processedAt time.Time) error {
	query := `
		UPDATE sync_queue
		SET status = 'FAILED', retry_count = $2, error_message = $3, processed_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'PROCESSING'
	`
	res, err := r.db.ExecContext(ctx, query, id, retryCount, errMsg, processedAt)
	if err != nil {
		return mapError(err, "mark sync queue entry failed")
	}
	return expectOne(res, "mark sync queue entry failed")
}

func (r *syncQueueRepository) List(ctx context.Context, filter model.QueueEntryFilter) ([]*model.SyncQueueEntry, error) {
	where, args := queueFilterClause(filter.BusinessID, filter.Status, filter.EntityType)
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT %s FROM sync_queue %s
		ORDER BY %s, scheduled_for ASC, created_at ASC
		LIMIT $%d`, syncQueueColumns, where, priorityRankSQL, len(args))

	var entries []*model.SyncQueueEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, mapError(err, "list sync queue entries")
	}
	return entries, nil
}

func (r *syncQueueRepository) CountByStatus(ctx context.Context, businessID *uuid.UUID) (model.QueueStats, error) {
	where, args := queueFilterClause(businessID, nil, nil)
	query := `SELECT status, COUNT(*) AS n FROM sync_queue ` + where + ` GROUP BY status`

	var rows []struct {
		Status model.QueueStatus `db:"status"`
		N      int               `db:"n"`
	}
	var stats model.QueueStats
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return stats, mapError(err, "count sync queue entries")
	}
	for _, row := range rows {
		stats.Add(row.Status, row.N)
	}
	return stats, nil
}

func (r *syncQueueRepository) RequeueFailed(ctx context.Context, businessID *uuid.UUID, ids []uuid.UUID, now time.Time) (int64, error) {
	var affected int64
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE sync_queue q
			SET status = 'PENDING', retry_count = 0, error_message = NULL,
				scheduled_for = $1, processed_at = NULL, updated_at = $1
			WHERE q.status = 'FAILED'
			AND ($2::uuid IS NULL OR q.business_id = $2)
			AND (cardinality($3::uuid[]) = 0 OR q.id = ANY($3))
			AND NOT EXISTS (
				SELECT 1 FROM sync_queue l
				WHERE l.entity_type = q.entity_type AND l.entity_id = q.entity_id
				AND l.status IN ` + liveStatusSQL + `
			)
			AND q.id = (
				SELECT f.id FROM sync_queue f
				WHERE f.entity_type = q.entity_type AND f.entity_id = q.entity_id AND f.status = 'FAILED'
				ORDER BY f.created_at DESC
				LIMIT 1
			)
		`
		idStrings := make([]string, len(ids))
		for i, id := range ids {
			idStrings[i] = id.String()
		}
		res, err := tx.ExecContext(ctx, query, now, businessID, pq.Array(idStrings))
		if err != nil {
			return mapError(err, "requeue failed sync queue entries")
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (r *syncQueueRepository) ResetStuck(ctx context.Context, before, now time.Time) (int64, error) {
	query := `
		UPDATE sync_queue
		SET status = 'RETRY', scheduled_for = $2, updated_at = $2
		WHERE status = 'PROCESSING' AND updated_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, before, now)
	if err != nil {
		return 0, mapError(err, "reset stuck sync queue entries")
	}
	return res.RowsAffected()
}

func (r *syncQueueRepository) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM sync_queue
		WHERE status = 'COMPLETED'
		AND processed_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed sync queue entries: %w", err)
	}
	return res.RowsAffected()
}

func queueFilterClause(businessID *uuid.UUID, status *model.QueueStatus, entityType *model.EntityType) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if businessID != nil {
		args = append(args, *businessID)
		conds = append(conds, fmt.Sprintf("business_id = $%d", len(args)))
	}
	if status != nil {
		args = append(args, *status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if entityType != nil {
		args = append(args, *entityType)
		conds = append(conds, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
