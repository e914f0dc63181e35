package crm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Customer is one record of the CRM customer listing. Pointer fields are
// nil when the CRM omitted them.
type Customer struct {
	ID             string
	Email          *string
	Phone          *string
	FirstName      *string
	LastName       *string
	LoyaltyPoints  *int
	LoyaltyTier    *string
	TotalSpent     *decimal.Decimal
	VisitCount     *int
	MarketingOptIn *bool
}

// customerWire accepts both the snake_case and camelCase spellings the CRM
// has shipped. snake_case wins when both are present.
type customerWire struct {
	ID             json.RawMessage  `json:"id"`
	Email          *string          `json:"email"`
	Phone          *string          `json:"phone"`
	FirstName      *string          `json:"first_name"`
	FirstNameCamel *string          `json:"firstName"`
	LastName       *string          `json:"last_name"`
	LastNameCamel  *string          `json:"lastName"`
	Points         *int             `json:"loyalty_points"`
	PointsCamel    *int             `json:"loyaltyPoints"`
	Tier           *string          `json:"loyalty_tier"`
	TierCamel      *string          `json:"loyaltyTier"`
	Spent          *decimal.Decimal `json:"total_spent"`
	SpentCamel     *decimal.Decimal `json:"totalSpent"`
	Visits         *int             `json:"visit_count"`
	VisitsCamel    *int             `json:"visitCount"`
	OptIn          *bool            `json:"marketing_opt_in"`
	OptInCamel     *bool            `json:"marketingOptIn"`
}

func (c *Customer) UnmarshalJSON(data []byte) error {
	var w customerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Customer{
		ID:             idString(w.ID),
		Email:          w.Email,
		Phone:          w.Phone,
		FirstName:      first(w.FirstName, w.FirstNameCamel),
		LastName:       first(w.LastName, w.LastNameCamel),
		LoyaltyPoints:  first(w.Points, w.PointsCamel),
		LoyaltyTier:    first(w.Tier, w.TierCamel),
		TotalSpent:     first(w.Spent, w.SpentCamel),
		VisitCount:     first(w.Visits, w.VisitsCamel),
		MarketingOptIn: first(w.OptIn, w.OptInCamel),
	}
	return nil
}

func first[T any](a, b *T) *T {
	if a != nil {
		return a
	}
	return b
}

type customerList struct {
	Customers []Customer `json:"customers"`
}

// ListCustomers fetches the tenant's CRM customers. A reply without a
// customers array is an empty list.
func (c *Client) ListCustomers(ctx context.Context, tenantID string) ([]Customer, error) {
	resp, err := c.Get(ctx, tenantID, CustomersPath)
	if err != nil {
		return nil, err
	}
	var list customerList
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &list); err != nil {
			return nil, fmt.Errorf("failed to decode crm customers: %w", err)
		}
	}
	return list.Customers, nil
}
