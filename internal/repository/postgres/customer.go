package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
)

const customerColumns = `id, business_id, external_id, first_name, last_name, email, phone, is_anonymous,
	is_active, loyalty_points, loyalty_tier, total_spent, visit_count, marketing_opt_in, sync_state,
	last_synced_at, created_at, updated_at`

type customerRepository struct {
	BaseRepository
}

func NewCustomerRepository(base BaseRepository) repository.CustomerRepository {
	return &customerRepository{base}
}

func (r *customerRepository) Create(ctx context.Context, c *model.Customer) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.SyncState == "" {
		c.SyncState = model.SyncStateNotSynced
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	query := `
		INSERT INTO customers (` + customerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.BusinessID, c.ExternalID, c.FirstName, c.LastName, c.Email, c.Phone, c.IsAnonymous,
		c.IsActive, c.LoyaltyPoints, c.LoyaltyTier, c.TotalSpent, c.VisitCount, c.MarketingOptIn, c.SyncState,
		c.LastSyncedAt, c.CreatedAt, c.UpdatedAt,
	)
	return mapError(err, "create customer")
}

func (r *customerRepository) Get(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	var c model.Customer
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		return nil, mapError(err, "get customer")
	}
	return &c, nil
}

func (r *customerRepository) FindByEmail(ctx context.Context, businessID uuid.UUID, email string) (*model.Customer, error) {
	query := `
		SELECT ` + customerColumns + ` FROM customers
		WHERE business_id = $1 AND lower(email) = lower($2)
		ORDER BY is_active DESC, created_at ASC
		LIMIT 1
	`
	var c model.Customer
	if err := r.db.GetContext(ctx, &c, query, businessID, email); err != nil {
		return nil, mapError(err, "find customer by email")
	}
	return &c, nil
}

func (r *customerRepository) FindByExternalID(ctx context.Context, businessID uuid.UUID, externalID string) (*model.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE business_id = $1 AND external_id = $2 LIMIT 1`
	var c model.Customer
	if err := r.db.GetContext(ctx, &c, query, businessID, externalID); err != nil {
		return nil, mapError(err, "find customer by external id")
	}
	return &c, nil
}

func (r *customerRepository) FindByPhone(ctx context.Context, businessID uuid.UUID, phone string) (*model.Customer, error) {
	query := `
		SELECT ` + customerColumns + ` FROM customers
		WHERE business_id = $1 AND phone = $2
		ORDER BY is_active DESC, created_at ASC
		LIMIT 1
	`
	var c model.Customer
	if err := r.db.GetContext(ctx, &c, query, businessID, phone); err != nil {
		return nil, mapError(err, "find customer by phone")
	}
	return &c, nil
}

func (r *customerRepository) List(ctx context.Context, filter model.CustomerFilter) ([]*model.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE business_id = $1`
	if filter.UnsyncedOnly {
		query += ` AND is_anonymous = false AND is_active = true AND (external_id IS NULL OR sync_state <> 'SYNCED')`
	}
	query += ` ORDER BY created_at ASC`
	args := []interface{}{filter.BusinessID}
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, filter.Limit)
	}

	var customers []*model.Customer
	if err := r.db.SelectContext(ctx, &customers, query, args...); err != nil {
		return nil, mapError(err, "list customers")
	}
	return customers, nil
}

func (r *customerRepository) Update(ctx context.Context, c *model.Customer) error {
	c.UpdatedAt = time.Now()
	query := `
		UPDATE customers SET
			external_id = $2, first_name = $3, last_name = $4, email = $5, phone = $6,
			is_active = $7, loyalty_points = $8, loyalty_tier = $9, total_spent = $10,
			visit_count = $11, marketing_opt_in = $12, sync_state = $13, last_synced_at = $14,
			updated_at = $15
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		c.ID, c.ExternalID, c.FirstName, c.LastName, c.Email, c.Phone,
		c.IsActive, c.LoyaltyPoints, c.LoyaltyTier, c.TotalSpent,
		c.VisitCount, c.MarketingOptIn, c.SyncState, c.LastSyncedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "update customer")
	}
	if err := expectOne(res, "update customer"); err != nil {
		return fmt.Errorf("update customer %s: %w", c.ID, repository.ErrNotFound)
	}
	return nil
}

func (r *customerRepository) UpdateSyncState(ctx context.Context, id uuid.UUID, state model.SyncState, externalID *string, syncedAt *time.Time) error {
	query := `
		UPDATE customers SET
			sync_state = $2,
			external_id = COALESCE($3, external_id),
			last_synced_at = COALESCE($4, last_synced_at),
			updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, state, externalID, syncedAt)
	if err != nil {
		return mapError(err, "update customer sync state")
	}
	if err := expectOne(res, "update customer sync state"); err != nil {
		return fmt.Errorf("update customer sync state %s: %w", id, repository.ErrNotFound)
	}
	return nil
}
