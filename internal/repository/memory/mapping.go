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

type mappingRepository struct {
	db *DB
}

func (r *mappingRepository) Upsert(ctx context.Context, m *model.SystemMapping) (*model.SystemMapping, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var existing *model.SystemMapping
	for _, cur := range r.db.mappings {
		if cur.EntityType != m.EntityType {
			continue
		}
		if cur.PosID == m.PosID {
			existing = cur
			continue
		}
		if cur.CrmID == m.CrmID {
			return nil, fmt.Errorf("upsert system mapping: crm id %s: %w", m.CrmID, repository.ErrConflict)
		}
	}

	now := time.Now()
	if existing != nil {
		existing.CrmID = m.CrmID
		existing.SyncStatus = m.SyncStatus
		existing.LastSyncedAt = m.LastSyncedAt
		existing.UpdatedAt = now
		cp := *existing
		return &cp, nil
	}

	stored := *m
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.db.mappings[stored.ID] = &stored
	cp := stored
	return &cp, nil
}

func (r *mappingRepository) find(match func(*model.SystemMapping) bool, op string) (*model.SystemMapping, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	for _, m := range r.db.mappings {
		if match(m) {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
}

func (r *mappingRepository) GetByPosID(ctx context.Context, entityType model.EntityType, posID string) (*model.SystemMapping, error) {
	return r.find(func(m *model.SystemMapping) bool {
		return m.EntityType == entityType && m.PosID == posID
	}, "get mapping by pos id")
}

func (r *mappingRepository) GetByCrmID(ctx context.Context, entityType model.EntityType, crmID string) (*model.SystemMapping, error) {
	return r.find(func(m *model.SystemMapping) bool {
		return m.EntityType == entityType && m.CrmID == crmID
	}, "get mapping by crm id")
}

func (r *mappingRepository) UpdateStatus(ctx context.Context, entityType model.EntityType, posID string, status model.MappingStatus, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, m := range r.db.mappings {
		if m.EntityType == entityType && m.PosID == posID {
			m.SyncStatus = status
			m.LastSyncedAt = model.TimePtr(at)
			m.UpdatedAt = at
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *mappingRepository) ListByBusiness(ctx context.Context, businessID uuid.UUID, entityType *model.EntityType) ([]*model.SystemMapping, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var list []*model.SystemMapping
	for _, m := range r.db.mappings {
		if m.BusinessID != businessID {
			continue
		}
		if entityType != nil && m.EntityType != *entityType {
			continue
		}
		cp := *m
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}
