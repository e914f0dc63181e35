package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
)

const mappingColumns = `id, business_id, entity_type, pos_id, crm_id, sync_status, last_synced_at, created_at, updated_at`

type mappingRepository struct {
	BaseRepository
}

func NewMappingRepository(base BaseRepository) repository.MappingRepository {
	return &mappingRepository{base}
}

func (r *mappingRepository) Upsert(ctx context.Context, m *model.SystemMapping) (*model.SystemMapping, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now()
	query := `
		INSERT INTO system_mappings (
			id, business_id, entity_type, pos_id, crm_id, sync_status, last_synced_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (entity_type, pos_id) DO UPDATE SET
			crm_id = EXCLUDED.crm_id,
			sync_status = EXCLUDED.sync_status,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + mappingColumns

	var saved model.SystemMapping
	err := r.db.GetContext(ctx, &saved, query,
		m.ID, m.BusinessID, m.EntityType, m.PosID, m.CrmID, m.SyncStatus, m.LastSyncedAt, now)
	if err != nil {
		return nil, mapError(err, "upsert system mapping")
	}
	return &saved, nil
}

func (r *mappingRepository) GetByPosID(ctx context.Context, entityType model.EntityType, posID string) (*model.SystemMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM system_mappings WHERE entity_type = $1 AND pos_id = $2`
	var m model.SystemMapping
	if err := r.db.GetContext(ctx, &m, query, entityType, posID); err != nil {
		return nil, mapError(err, "get mapping by pos id")
	}
	return &m, nil
}

func (r *mappingRepository) GetByCrmID(ctx context.Context, entityType model.EntityType, crmID string) (*model.SystemMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM system_mappings WHERE entity_type = $1 AND crm_id = $2`
	var m model.SystemMapping
	if err := r.db.GetContext(ctx, &m, query, entityType, crmID); err != nil {
		return nil, mapError(err, "get mapping by crm id")
	}
	return &m, nil
}

func (r *mappingRepository) UpdateStatus(ctx context.Context, entityType model.EntityType, posID string, status model.MappingStatus, at time.Time) error {
	query := `
		UPDATE system_mappings
		SET sync_status = $3, last_synced_at = $4, updated_at = $4
		WHERE entity_type = $1 AND pos_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, entityType, posID, status, at)
	if err != nil {
		return mapError(err, "update mapping status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *mappingRepository) ListByBusiness(ctx context.Context, businessID uuid.UUID, entityType *model.EntityType) ([]*model.SystemMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM system_mappings WHERE business_id = $1`
	args := []interface{}{businessID}
	if entityType != nil {
		query += ` AND entity_type = $2`
		args = append(args, *entityType)
	}
	query += ` ORDER BY created_at DESC`

	var mappings []*model.SystemMapping
	if err := r.db.SelectContext(ctx, &mappings, query, args...); err != nil {
		return nil, mapError(err, "list mappings")
	}
	return mappings, nil
}
