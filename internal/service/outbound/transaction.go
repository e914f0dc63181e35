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

// TransactionSyncer delivers completed sales to the CRM transaction endpoint.
type TransactionSyncer struct {
	transactions repository.TransactionRepository
	customers    repository.CustomerRepository
	tenants      *TenantResolver
	now          func() time.Time
}

func NewTransactionSyncer(transactions repository.TransactionRepository, customers repository.CustomerRepository, tenants *TenantResolver) *TransactionSyncer {
	return &TransactionSyncer{
		transactions: transactions,
		customers:    customers,
		tenants:      tenants,
		now:          time.Now,
	}
}

func (s *TransactionSyncer) Build(ctx context.Context, entry *model.SyncQueueEntry) (*Request, error) {
	snapshot, err := s.snapshot(ctx, entry)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return &Request{SkipReason: "anonymous customer transaction"}, nil
	}

	tenantID, err := s.tenants.TenantID(ctx, entry.BusinessID)
	if err != nil {
		return nil, err
	}
	snapshot.TenantID = tenantID

	return &Request{
		TenantID:  tenantID,
		Path:      crm.TransactionPath,
		Body:      snapshot,
		RemoteKey: "transaction",
	}, nil
}

func (s *TransactionSyncer) snapshot(ctx context.Context, entry *model.SyncQueueEntry) (*model.TransactionSnapshot, error) {
	txn, err := s.transactions.Get(ctx, entry.EntityID)
	switch {
	case err == nil:
		customer, err := s.customer(ctx, txn)
		if err != nil {
			return nil, err
		}
		if customer != nil && customer.IsAnonymous {
			return nil, nil
		}
		snap := txn.Snapshot(customer)
		return &snap, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to load transaction %s: %w", entry.EntityID, err)
	}

	var snap model.TransactionSnapshot
	if len(entry.Payload) == 0 || json.Unmarshal(entry.Payload, &snap) != nil || snap.TransactionID == "" {
		return nil, Permanent(fmt.Errorf("transaction %s not found and no usable snapshot", entry.EntityID))
	}
	return &snap, nil
}

func (s *TransactionSyncer) customer(ctx context.Context, txn *model.Transaction) (*model.Customer, error) {
	if txn.CustomerID == nil {
		return nil, nil
	}
	c, err := s.customers.Get(ctx, *txn.CustomerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load transaction customer: %w", err)
	}
	return c, nil
}

func (s *TransactionSyncer) Apply(ctx context.Context, entry *model.SyncQueueEntry, remoteID string) error {
	now := s.now()
	err := s.transactions.UpdateSyncStatus(ctx, entry.EntityID, model.TransactionSyncSuccess, nil, &now)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

func (s *TransactionSyncer) Fail(ctx context.Context, entry *model.SyncQueueEntry, cause error) error {
	msg := cause.Error()
	err := s.transactions.UpdateSyncStatus(ctx, entry.EntityID, model.TransactionSyncFailed, &msg, nil)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}
