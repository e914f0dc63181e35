package webhook

import (
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/pos-sync/internal/model"
)

// Event names as they appear in the webhook path.
const (
	EventCustomerCreated = "customer-created"
	EventCustomerUpdated = "customer-updated"
	EventCustomerDeleted = "customer-deleted"
)

const alreadyDeleted = "customer not found (already deleted or never existed)"

// CustomerPayload is the CRM view of a customer. Pointer fields are
// optional; nil means the CRM did not send the field.
type CustomerPayload struct {
	ID             string           `json:"id" validate:"required"`
	Email          *string          `json:"email,omitempty"`
	FirstName      *string          `json:"first_name,omitempty"`
	LastName       *string          `json:"last_name,omitempty"`
	Phone          *string          `json:"phone,omitempty"`
	LoyaltyPoints  *int             `json:"loyalty_points,omitempty"`
	LoyaltyTier    *string          `json:"loyalty_tier,omitempty"`
	TotalSpent     *decimal.Decimal `json:"total_spent,omitempty"`
	VisitCount     *int             `json:"visit_count,omitempty"`
	MarketingOptIn *bool            `json:"marketing_opt_in,omitempty"`
}

// CustomerEvent is the body of customer-created and customer-updated.
type CustomerEvent struct {
	Customer      *CustomerPayload `json:"customer" validate:"required"`
	TenantID      string           `json:"tenant_id,omitempty"`
	PosBusinessID string           `json:"pos_business_id,omitempty"`
	Timestamp     string           `json:"timestamp,omitempty"`
}

// DeletedEvent is the body of customer-deleted.
type DeletedEvent struct {
	CustomerID    string `json:"customer_id" validate:"required"`
	TenantID      string `json:"tenant_id,omitempty"`
	PosBusinessID string `json:"pos_business_id,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

// Result reports what a webhook changed locally.
type Result struct {
	// Linked is set when a local customer now carries the CRM id.
	Linked   bool            `json:"linked"`
	Found    bool            `json:"found"`
	Message  string          `json:"message"`
	Customer *model.Customer `json:"-"`
}

func email(p *CustomerPayload) string {
	if p == nil || p.Email == nil {
		return ""
	}
	return *p.Email
}
