package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
)

const businessColumns = `id, name, external_tenant_id, created_at, updated_at`

type businessRepository struct {
	BaseRepository
}

func NewBusinessRepository(base BaseRepository) repository.BusinessRepository {
	return &businessRepository{base}
}

func (r *businessRepository) Get(ctx context.Context, id uuid.UUID) (*model.Business, error) {
	var b model.Business
	if err := r.db.GetContext(ctx, &b, `SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id); err != nil {
		return nil, mapError(err, "get business")
	}
	return &b, nil
}

func (r *businessRepository) GetByTenantID(ctx context.Context, tenantID string) (*model.Business, error) {
	var b model.Business
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE external_tenant_id = $1`
	if err := r.db.GetContext(ctx, &b, query, tenantID); err != nil {
		return nil, mapError(err, "get business by tenant id")
	}
	return &b, nil
}

func (r *businessRepository) First(ctx context.Context) (*model.Business, error) {
	var b model.Business
	query := `SELECT ` + businessColumns + ` FROM businesses ORDER BY created_at ASC LIMIT 1`
	if err := r.db.GetContext(ctx, &b, query); err != nil {
		return nil, mapError(err, "get first business")
	}
	return &b, nil
}

func (r *businessRepository) List(ctx context.Context) ([]*model.Business, error) {
	var businesses []*model.Business
	query := `SELECT ` + businessColumns + ` FROM businesses ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &businesses, query); err != nil {
		return nil, mapError(err, "list businesses")
	}
	return businesses, nil
}
