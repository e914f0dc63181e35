package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write would break a uniqueness rule.
	ErrConflict = errors.New("record conflicts with an existing row")
	// ErrStaleState is returned when a conditional transition finds the row
	// in a different state than expected, typically because another worker
	// already moved it.
	ErrStaleState = errors.New("record is no longer in the expected state")
)

// All repository interfaces in one file
type (
	BusinessRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Business, error)
		GetByTenantID(ctx context.Context, tenantID string) (*model.Business, error)
		// First returns the oldest business, the default tenant of single-tenant installs.
		First(ctx context.Context) (*model.Business, error)
		List(ctx context.Context) ([]*model.Business, error)
	}

	CustomerRepository interface {
		Create(ctx context.Context, customer *model.Customer) error
		Get(ctx context.Context, id uuid.UUID) (*model.Customer, error)
		FindByEmail(ctx context.Context, businessID uuid.UUID, email string) (*model.Customer, error)
		FindByExternalID(ctx context.Context, businessID uuid.UUID, externalID string) (*model.Customer, error)
		// FindByPhone matches the stored phone exactly.
		FindByPhone(ctx context.Context, businessID uuid.UUID, phone string) (*model.Customer, error)
		List(ctx context.Context, filter model.CustomerFilter) ([]*model.Customer, error)
		// Update writes every mutable column of customer.
		Update(ctx context.Context, customer *model.Customer) error
		// UpdateSyncState records an outbound sync result. A nil externalID
		// leaves the stored value unchanged.
		UpdateSyncState(ctx context.Context, id uuid.UUID, state model.SyncState, externalID *string, syncedAt *time.Time) error
	}

	TransactionRepository interface {
		// Get loads the transaction together with its items.
		Get(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
		UpdateSyncStatus(ctx context.Context, id uuid.UUID, status model.TransactionSyncStatus, syncErr *string, syncedAt *time.Time) error
	}

	SyncQueueRepository interface {
		// InsertIfNoLive inserts entry unless a live row already exists for the
		// same entity, in which case that row is returned with created=false.
		InsertIfNoLive(ctx context.Context, entry *model.SyncQueueEntry) (*model.SyncQueueEntry, bool, error)
		Get(ctx context.Context, id uuid.UUID) (*model.SyncQueueEntry, error)
		FindLive(ctx context.Context, entityType model.EntityType, entityID uuid.UUID) (*model.SyncQueueEntry, error)
		// ClaimDue atomically moves up to limit due PENDING/RETRY rows to
		// PROCESSING and returns them in dequeue order.
		ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.SyncQueueEntry, error)
		MarkCompleted(ctx context.Context, id uuid.UUID, processedAt time.Time) error
		MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, scheduledFor time.Time) error
		MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, processedAt time.Time) error
		List(ctx context.Context, filter model.QueueEntryFilter) ([]*model.SyncQueueEntry, error)
		CountByStatus(ctx context.Context, businessID *uuid.UUID) (model.QueueStats, error)
		// RequeueFailed returns FAILED rows to PENDING with a fresh retry budget.
		// Rows whose entity already has a live row are left alone. Empty ids
		// selects every FAILED row in scope.
		RequeueFailed(ctx context.Context, businessID *uuid.UUID, ids []uuid.UUID, now time.Time) (int64, error)
		// ResetStuck moves PROCESSING rows untouched since before back to RETRY.
		ResetStuck(ctx context.Context, before, now time.Time) (int64, error)
		DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	MappingRepository interface {
		// Upsert creates or refreshes the mapping keyed by (entity type, pos id).
		// ErrConflict when the crm id already belongs to another pos id.
		Upsert(ctx context.Context, mapping *model.SystemMapping) (*model.SystemMapping, error)
		GetByPosID(ctx context.Context, entityType model.EntityType, posID string) (*model.SystemMapping, error)
		GetByCrmID(ctx context.Context, entityType model.EntityType, crmID string) (*model.SystemMapping, error)
		UpdateStatus(ctx context.Context, entityType model.EntityType, posID string, status model.MappingStatus, at time.Time) error
		ListByBusiness(ctx context.Context, businessID uuid.UUID, entityType *model.EntityType) ([]*model.SystemMapping, error)
	}
)

// Store bundles the repositories the sync core needs.
type Store struct {
	Businesses   BusinessRepository
	Customers    CustomerRepository
	Transactions TransactionRepository
	Queue        SyncQueueRepository
	Mappings     MappingRepository
}
