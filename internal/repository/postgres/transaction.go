package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
)

const transactionColumns = `id, business_id, customer_id, transaction_number, subtotal, tax_amount,
	discount_amount, total, payment_method, loyalty_points_earned, loyalty_points_redeemed, status,
	notes, sync_status, sync_error, last_synced_at, created_at, updated_at`

type transactionRepository struct {
	BaseRepository
}

func NewTransactionRepository(base BaseRepository) repository.TransactionRepository {
	return &transactionRepository{base}
}

func (r *transactionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	var t model.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		return nil, mapError(err, "get transaction")
	}

	itemsQuery := `
		SELECT id, transaction_id, product_id, product_name, sku, quantity, unit_price, discount, tax, total
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY id
	`
	if err := r.db.SelectContext(ctx, &t.Items, itemsQuery, id); err != nil {
		return nil, mapError(err, "get transaction items")
	}
	return &t, nil
}

func (r *transactionRepository) UpdateSyncStatus(ctx context.Context, id uuid.UUID, status model.TransactionSyncStatus, syncErr *string, syncedAt *time.Time) error {
	query := `
		UPDATE transactions SET
			sync_status = $2,
			sync_error = $3,
			last_synced_at = COALESCE($4, last_synced_at),
			updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, status, syncErr, syncedAt)
	if err != nil {
		return mapError(err, "update transaction sync status")
	}
	if err := expectOne(res, "update transaction sync status"); err != nil {
		return fmt.Errorf("update transaction sync status %s: %w", id, repository.ErrNotFound)
	}
	return nil
}
