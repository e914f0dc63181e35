package model

import (
	"time"

	"github.com/google/uuid"
)

// Business is a tenant of the POS.
type Business struct {
	ID               uuid.UUID `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	ExternalTenantID *string   `db:"external_tenant_id" json:"external_tenant_id,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// TenantID returns the CRM tenant id, or "" when the business is not mapped.
func (b *Business) TenantID() string {
	if b.ExternalTenantID == nil {
		return ""
	}
	return *b.ExternalTenantID
}
