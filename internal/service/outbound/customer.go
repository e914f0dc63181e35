package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
	"github.com/jwalitptl/pos-sync/pkg/crm"
)

// CustomerSyncer delivers customer rows to the CRM customer endpoint.
type CustomerSyncer struct {
	customers repository.CustomerRepository
	tenants   *TenantResolver
	now       func() time.Time
}

func NewCustomerSyncer(customers repository.CustomerRepository, tenants *TenantResolver) *CustomerSyncer {
	return &CustomerSyncer{customers: customers, tenants: tenants, now: time.Now}
}

func (s *CustomerSyncer) Build(ctx context.Context, entry *model.SyncQueueEntry) (*Request, error) {
	snapshot, err := s.snapshot(ctx, entry)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return &Request{SkipReason: "anonymous customer"}, nil
	}

	tenantID, err := s.tenants.TenantID(ctx, entry.BusinessID)
	if err != nil {
		return nil, err
	}
	snapshot.TenantID = tenantID
	if entry.Operation == model.OperationDelete {
		snapshot.Deleted = true
	}

	return &Request{
		TenantID:  tenantID,
		Path:      crm.CustomerPath,
		Body:      snapshot,
		RemoteKey: "customer",
	}, nil
}

// snapshot prefers the live row and falls back to the enqueue-time copy
// once the customer is gone. nil means the customer must not be synced.
func (s *CustomerSyncer) snapshot(ctx context.Context, entry *model.SyncQueueEntry) (*model.CustomerSnapshot, error) {
	c, err := s.customers.Get(ctx, entry.EntityID)
	switch {
	case err == nil:
		if c.IsAnonymous {
			return nil, nil
		}
		snap := c.Snapshot()
		return &snap, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to load customer %s: %w", entry.EntityID, err)
	}

	var snap model.CustomerSnapshot
	if len(entry.Payload) == 0 || json.Unmarshal(entry.Payload, &snap) != nil || snap.CustomerID == "" {
		return nil, Permanent(fmt.Errorf("customer %s not found and no usable snapshot", entry.EntityID))
	}
	return &snap, nil
}

func (s *CustomerSyncer) Apply(ctx context.Context, entry *model.SyncQueueEntry, remoteID string) error {
	var externalID *string
	if remoteID != "" && entry.Operation != model.OperationDelete {
		externalID = &remoteID
	}
	now := s.now()
	err := s.customers.UpdateSyncState(ctx, entry.EntityID, model.SyncStateSynced, externalID, &now)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

func (s *CustomerSyncer) Fail(ctx context.Context, entry *model.SyncQueueEntry, cause error) error {
	err := s.customers.UpdateSyncState(ctx, entry.EntityID, model.SyncStateFailed, nil, nil)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}
