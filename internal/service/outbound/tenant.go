package outbound

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/pos-sync/internal/repository"
)

const defaultTenantTTL = 5 * time.Minute

// TenantResolver maps a business to its CRM tenant id.
type TenantResolver struct {
	businesses repository.BusinessRepository
	cache      *cache.Cache
}

func NewTenantResolver(businesses repository.BusinessRepository, ttl time.Duration) *TenantResolver {
	if ttl <= 0 {
		ttl = defaultTenantTTL
	}
	return &TenantResolver{
		businesses: businesses,
		cache:      cache.New(ttl, 2*ttl),
	}
}

// TenantID returns the external tenant id of the business. A business
// without one yields a retryable error; an operator may still add it.
func (t *TenantResolver) TenantID(ctx context.Context, businessID uuid.UUID) (string, error) {
	key := businessID.String()
	if v, ok := t.cache.Get(key); ok {
		return v.(string), nil
	}

	b, err := t.businesses.Get(ctx, businessID)
	if err != nil {
		return "", fmt.Errorf("failed to load business %s: %w", businessID, err)
	}
	tenantID := b.TenantID()
	if tenantID == "" {
		return "", fmt.Errorf("business %s has no crm tenant mapping", businessID)
	}

	t.cache.SetDefault(key, tenantID)
	return tenantID, nil
}

// Forget drops the cached tenant of businessID.
func (t *TenantResolver) Forget(businessID uuid.UUID) {
	t.cache.Delete(businessID.String())
}
