package webhook

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	apperrors "github.com/jwalitptl/pos-sync/pkg/errors"
)

// MarketingPrefs is a CRM change to a POS customer's marketing consent.
// CustomerID is the POS id.
type MarketingPrefs struct {
	CustomerID     string `json:"customerId" validate:"required"`
	TenantID       string `json:"tenantId,omitempty"`
	MarketingOptIn *bool  `json:"marketingOptIn,omitempty"`
}

// UpdateMarketingPrefs applies the consent flag to a customer of the
// tenant's business. A nil flag only stamps LastSyncedAt.
func (s *Service) UpdateMarketingPrefs(ctx context.Context, tenantID string, req *MarketingPrefs) (*model.Customer, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, apperrors.BadRequest("customerId is required", err)
	}
	if req.TenantID != "" && req.TenantID != tenantID {
		return nil, apperrors.Forbidden(apperrors.ReasonTenantMismatch, "tenant id mismatch")
	}

	b, err := s.ResolveBusiness(ctx, tenantID, "")
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(req.CustomerID)
	if err != nil {
		return nil, apperrors.BadRequest("customerId is not a valid id", err)
	}
	c, err := s.customers.Get(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "customer")
	}
	if c.BusinessID != b.ID {
		return nil, apperrors.NotFound("customer", nil)
	}

	if req.MarketingOptIn != nil {
		c.MarketingOptIn = *req.MarketingOptIn
	}
	now := s.now()
	c.LastSyncedAt = &now
	if err := s.customers.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to update marketing preferences: %w", err)
	}

	s.logger.Info("marketing preferences updated", "customer_id", c.ID.String(), "marketing_opt_in", c.MarketingOptIn)
	return c, nil
}
