// Package mapping maintains the POS to CRM id links.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
)

// ErrMappingConflict means the CRM id is already linked to another local record.
var ErrMappingConflict = errors.New("crm id already mapped to another record")

type MappingServicer interface {
	Link(ctx context.Context, businessID uuid.UUID, entityType model.EntityType, posID, crmID string) (*model.SystemMapping, error)
	Deactivate(ctx context.Context, entityType model.EntityType, posID string) error
	MarkFailed(ctx context.Context, entityType model.EntityType, posID string) error
	ByCrmID(ctx context.Context, entityType model.EntityType, crmID string) (*model.SystemMapping, error)
	ByPosID(ctx context.Context, entityType model.EntityType, posID string) (*model.SystemMapping, error)
	Stats(ctx context.Context, businessID uuid.UUID) (*model.MappingStats, error)
}

type Service struct {
	repo repository.MappingRepository
	now  func() time.Time
}

func NewService(repo repository.MappingRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Link records posID <-> crmID as ACTIVE. Re-linking the same pair only
// refreshes lastSyncedAt. A crmID owned by another posID is rejected with
// ErrMappingConflict.
func (s *Service) Link(ctx context.Context, businessID uuid.UUID, entityType model.EntityType, posID, crmID string) (*model.SystemMapping, error) {
	if posID == "" || crmID == "" {
		return nil, fmt.Errorf("link %s: pos id and crm id are required", entityType)
	}

	owner, err := s.repo.GetByCrmID(ctx, entityType, crmID)
	switch {
	case err == nil && owner.PosID != posID:
		return nil, fmt.Errorf("link %s %s to %s: owned by %s: %w", entityType, posID, crmID, owner.PosID, ErrMappingConflict)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to look up mapping: %w", err)
	}

	now := s.now()
	m, err := s.repo.Upsert(ctx, &model.SystemMapping{
		BusinessID:   businessID,
		EntityType:   entityType,
		PosID:        posID,
		CrmID:        crmID,
		SyncStatus:   model.MappingStatusActive,
		LastSyncedAt: &now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("link %s %s to %s: %w", entityType, posID, crmID, ErrMappingConflict)
		}
		return nil, fmt.Errorf("failed to save mapping: %w", err)
	}
	return m, nil
}

// Deactivate marks the mapping INACTIVE. The row is kept for audit. A
// missing mapping is not an error.
func (s *Service) Deactivate(ctx context.Context, entityType model.EntityType, posID string) error {
	return s.setStatus(ctx, entityType, posID, model.MappingStatusInactive)
}

// MarkFailed flags the mapping after a terminal delivery failure.
func (s *Service) MarkFailed(ctx context.Context, entityType model.EntityType, posID string) error {
	return s.setStatus(ctx, entityType, posID, model.MappingStatusFailed)
}

func (s *Service) setStatus(ctx context.Context, entityType model.EntityType, posID string, status model.MappingStatus) error {
	err := s.repo.UpdateStatus(ctx, entityType, posID, status, s.now())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to set mapping %s: %w", status, err)
	}
	return nil
}

func (s *Service) ByCrmID(ctx context.Context, entityType model.EntityType, crmID string) (*model.SystemMapping, error) {
	return s.repo.GetByCrmID(ctx, entityType, crmID)
}

func (s *Service) ByPosID(ctx context.Context, entityType model.EntityType, posID string) (*model.SystemMapping, error) {
	return s.repo.GetByPosID(ctx, entityType, posID)
}

func (s *Service) Stats(ctx context.Context, businessID uuid.UUID) (*model.MappingStats, error) {
	mappings, err := s.repo.ListByBusiness(ctx, businessID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	stats := &model.MappingStats{
		ByEntity: make(map[model.EntityType]int),
		ByStatus: make(map[model.MappingStatus]int),
	}
	for _, m := range mappings {
		stats.ByEntity[m.EntityType]++
		stats.ByStatus[m.SyncStatus]++
		stats.Total++
	}
	return stats, nil
}
