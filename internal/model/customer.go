package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SyncState string

const (
	SyncStateNotSynced SyncState = "NOT_SYNCED"
	SyncStateSynced    SyncState = "SYNCED"
	SyncStateFailed    SyncState = "FAILED"
)

const DefaultLoyaltyTier = "BRONZE"

type Customer struct {
	Base
	BusinessID     uuid.UUID       `db:"business_id" json:"business_id"`
	ExternalID     *string         `db:"external_id" json:"external_id,omitempty"`
	FirstName      string          `db:"first_name" json:"first_name"`
	LastName       string          `db:"last_name" json:"last_name"`
	Email          *string         `db:"email" json:"email,omitempty"`
	Phone          *string         `db:"phone" json:"phone,omitempty"`
	IsAnonymous    bool            `db:"is_anonymous" json:"is_anonymous"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	LoyaltyPoints  int             `db:"loyalty_points" json:"loyalty_points"`
	LoyaltyTier    string          `db:"loyalty_tier" json:"loyalty_tier"`
	TotalSpent     decimal.Decimal `db:"total_spent" json:"total_spent"`
	VisitCount     int             `db:"visit_count" json:"visit_count"`
	MarketingOptIn bool            `db:"marketing_opt_in" json:"marketing_opt_in"`
	SyncState      SyncState       `db:"sync_state" json:"sync_state"`
	LastSyncedAt   *time.Time      `db:"last_synced_at" json:"last_synced_at,omitempty"`
}

// FullName joins first and last name.
func (c *Customer) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// NeedsSync reports whether a reconcile sweep should pick the customer up.
// Inactive customers were deleted on one side and are not re-created.
func (c *Customer) NeedsSync() bool {
	if c.IsAnonymous || !c.IsActive {
		return false
	}
	return c.ExternalID == nil || c.SyncState != SyncStateSynced
}

// CustomerSnapshot is the syncable projection captured at enqueue time and
// sent to the CRM.
type CustomerSnapshot struct {
	CustomerID     string  `json:"customerId"`
	TenantID       string  `json:"tenantId,omitempty"`
	Email          string  `json:"email"`
	FirstName      string  `json:"firstName"`
	LastName       string  `json:"lastName"`
	Phone          string  `json:"phone"`
	LoyaltyPoints  int     `json:"loyaltyPoints"`
	LoyaltyTier    string  `json:"loyaltyTier"`
	TotalSpent     string  `json:"totalSpent"`
	VisitCount     int     `json:"visitCount"`
	MarketingOptIn bool    `json:"marketingOptIn"`
	IsActive       bool    `json:"isActive"`
	Deleted        bool    `json:"deleted,omitempty"`
	ExternalID     *string `json:"externalId,omitempty"`
	UpdatedAt      string  `json:"updatedAt"`
}

// Snapshot projects the customer onto its syncable fields.
func (c *Customer) Snapshot() CustomerSnapshot {
	tier := c.LoyaltyTier
	if tier == "" {
		tier = DefaultLoyaltyTier
	}
	s := CustomerSnapshot{
		CustomerID:     c.ID.String(),
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		LoyaltyPoints:  c.LoyaltyPoints,
		LoyaltyTier:    tier,
		TotalSpent:     c.TotalSpent.StringFixed(2),
		VisitCount:     c.VisitCount,
		MarketingOptIn: c.MarketingOptIn,
		IsActive:       c.IsActive,
		ExternalID:     c.ExternalID,
		UpdatedAt:      c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if c.Email != nil {
		s.Email = *c.Email
	}
	if c.Phone != nil {
		s.Phone = *c.Phone
	}
	return s
}

// CustomerFilter narrows customer scans.
type CustomerFilter struct {
	BusinessID uuid.UUID
	// UnsyncedOnly selects active non-anonymous customers without an
	// external id or not in the SYNCED state.
	UnsyncedOnly bool
	Limit        int
}
