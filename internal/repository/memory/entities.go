package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
)

type businessRepository struct {
	db *DB
}

func (r *businessRepository) Get(ctx context.Context, id uuid.UUID) (*model.Business, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	b, ok := r.db.businesses[id]
	if !ok {
		return nil, fmt.Errorf("get business: %w", repository.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (r *businessRepository) GetByTenantID(ctx context.Context, tenantID string) (*model.Business, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	for _, b := range r.db.businesses {
		if b.ExternalTenantID != nil && *b.ExternalTenantID == tenantID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("get business by tenant id: %w", repository.ErrNotFound)
}

func (r *businessRepository) First(ctx context.Context) (*model.Business, error) {
	list, _ := r.List(ctx)
	if len(list) == 0 {
		return nil, fmt.Errorf("get first business: %w", repository.ErrNotFound)
	}
	return list[0], nil
}

func (r *businessRepository) List(ctx context.Context) ([]*model.Business, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	list := make([]*model.Business, 0, len(r.db.businesses))
	for _, b := range r.db.businesses {
		cp := *b
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

type customerRepository struct {
	db *DB
}

func (r *customerRepository) Create(ctx context.Context, c *model.Customer) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, exists := r.db.customers[c.ID]; exists {
		return fmt.Errorf("create customer: %w", repository.ErrConflict)
	}
	if c.SyncState == "" {
		c.SyncState = model.SyncStateNotSynced
	}
	r.db.seq++
	c.CreatedAt = time.Now().Add(time.Duration(r.db.seq))
	c.UpdatedAt = c.CreatedAt
	cp := *c
	r.db.customers[c.ID] = &cp
	return nil
}

func (r *customerRepository) Get(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	c, ok := r.db.customers[id]
	if !ok {
		return nil, fmt.Errorf("get customer: %w", repository.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (r *customerRepository) FindByEmail(ctx context.Context, businessID uuid.UUID, email string) (*model.Customer, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var best *model.Customer
	for _, c := range r.db.customers {
		if c.BusinessID != businessID || c.Email == nil || !strings.EqualFold(*c.Email, email) {
			continue
		}
		// Active customers first, then the oldest.
		if best == nil ||
			(c.IsActive && !best.IsActive) ||
			(c.IsActive == best.IsActive && c.CreatedAt.Before(best.CreatedAt)) {
			best = c
		}
	}
	if best == nil {
		return nil, fmt.Errorf("find customer by email: %w", repository.ErrNotFound)
	}
	cp := *best
	return &cp, nil
}

func (r *customerRepository) FindByExternalID(ctx context.Context, businessID uuid.UUID, externalID string) (*model.Customer, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	for _, c := range r.db.customers {
		if c.BusinessID == businessID && c.ExternalID != nil && *c.ExternalID == externalID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("find customer by external id: %w", repository.ErrNotFound)
}

func (r *customerRepository) FindByPhone(ctx context.Context, businessID uuid.UUID, phone string) (*model.Customer, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var best *model.Customer
	for _, c := range r.db.customers {
		if c.BusinessID != businessID || c.Phone == nil || *c.Phone != phone {
			continue
		}
		if best == nil ||
			(c.IsActive && !best.IsActive) ||
			(c.IsActive == best.IsActive && c.CreatedAt.Before(best.CreatedAt)) {
			best = c
		}
	}
	if best == nil {
		return nil, fmt.Errorf("find customer by phone: %w", repository.ErrNotFound)
	}
	cp := *best
	return &cp, nil
}

func (r *customerRepository) List(ctx context.Context, filter model.CustomerFilter) ([]*model.Customer, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var list []*model.Customer
	for _, c := range r.db.customers {
		if c.BusinessID != filter.BusinessID {
			continue
		}
		if filter.UnsyncedOnly && !c.NeedsSync() {
			continue
		}
		cp := *c
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	if filter.Limit > 0 && len(list) > filter.Limit {
		list = list[:filter.Limit]
	}
	return list, nil
}

func (r *customerRepository) Update(ctx context.Context, c *model.Customer) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	existing, ok := r.db.customers[c.ID]
	if !ok {
		return fmt.Errorf("update customer %s: %w", c.ID, repository.ErrNotFound)
	}
	c.UpdatedAt = time.Now()
	c.CreatedAt = existing.CreatedAt
	c.BusinessID = existing.BusinessID
	c.IsAnonymous = existing.IsAnonymous
	cp := *c
	r.db.customers[c.ID] = &cp
	return nil
}

func (r *customerRepository) UpdateSyncState(ctx context.Context, id uuid.UUID, state model.SyncState, externalID *string, syncedAt *time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	c, ok := r.db.customers[id]
	if !ok {
		return fmt.Errorf("update customer sync state %s: %w", id, repository.ErrNotFound)
	}
	c.SyncState = state
	if externalID != nil {
		c.ExternalID = model.StringPtr(*externalID)
	}
	if syncedAt != nil {
		c.LastSyncedAt = model.TimePtr(*syncedAt)
	}
	c.UpdatedAt = time.Now()
	return nil
}

// CreateCustomer is a seeding shortcut for tests and the memory driver.
func (db *DB) CreateCustomer(c *model.Customer) *model.Customer {
	repo := &customerRepository{db}
	if err := repo.Create(context.Background(), c); err != nil {
		panic(err)
	}
	return c
}

type transactionRepository struct {
	db *DB
}

func (r *transactionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	t, ok := r.db.transactions[id]
	if !ok {
		return nil, fmt.Errorf("get transaction: %w", repository.ErrNotFound)
	}
	return copyTransaction(t), nil
}

func (r *transactionRepository) UpdateSyncStatus(ctx context.Context, id uuid.UUID, status model.TransactionSyncStatus, syncErr *string, syncedAt *time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	t, ok := r.db.transactions[id]
	if !ok {
		return fmt.Errorf("update transaction sync status %s: %w", id, repository.ErrNotFound)
	}
	t.SyncStatus = status
	t.SyncError = syncErr
	if syncedAt != nil {
		t.LastSyncedAt = model.TimePtr(*syncedAt)
	}
	t.UpdatedAt = time.Now()
	return nil
}
