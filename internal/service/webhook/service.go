// Package webhook applies CRM customer notifications to local state.
// Every operation is safe to receive more than once.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
	"github.com/jwalitptl/pos-sync/internal/service/mapping"
	apperrors "github.com/jwalitptl/pos-sync/pkg/errors"
	"github.com/jwalitptl/pos-sync/pkg/logger"
	"github.com/jwalitptl/pos-sync/pkg/validator"
)

type WebhookServicer interface {
	ResolveBusiness(ctx context.Context, tenantID, posBusinessID string) (*model.Business, error)
	CustomerCreated(ctx context.Context, tenantID string, evt *CustomerEvent) (*Result, error)
	CustomerUpdated(ctx context.Context, tenantID string, evt *CustomerEvent) (*Result, error)
	CustomerDeleted(ctx context.Context, tenantID string, evt *DeletedEvent) (*Result, error)
}

type Service struct {
	businesses repository.BusinessRepository
	customers  repository.CustomerRepository
	mappings   mapping.MappingServicer
	validator  validator.Validator
	logger     *logger.Logger
	now        func() time.Time
}

func NewService(store *repository.Store, mappings mapping.MappingServicer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if mappings == nil {
		mappings = mapping.NewService(store.Mappings)
	}
	return &Service{
		businesses: store.Businesses,
		customers:  store.Customers,
		mappings:   mappings,
		validator:  validator.New(),
		logger:     log.WithComponent("webhook"),
		now:        time.Now,
	}
}

// ResolveBusiness picks the local business a webhook applies to. An explicit
// pos_business_id wins but must agree with the tenant header when the
// business has a tenant set. Otherwise the tenant header is looked up.
func (s *Service) ResolveBusiness(ctx context.Context, tenantID, posBusinessID string) (*model.Business, error) {
	if tenantID == "" {
		return nil, &apperrors.AppError{
			Code:    apperrors.ErrBadRequest,
			Reason:  apperrors.ReasonMissingTenant,
			Message: "missing X-Tenant-ID header",
		}
	}

	if posBusinessID != "" {
		id, err := uuid.Parse(posBusinessID)
		if err != nil {
			return nil, apperrors.BadRequest("pos_business_id is not a valid id", err)
		}
		b, err := s.businesses.Get(ctx, id)
		if err != nil {
			return nil, notFoundOr(err, "business")
		}
		if t := b.TenantID(); t != "" && t != tenantID {
			return nil, apperrors.Forbidden(apperrors.ReasonTenantMismatch, "tenant does not own business")
		}
		return b, nil
	}

	b, err := s.businesses.GetByTenantID(ctx, tenantID)
	if err != nil {
		return nil, notFoundOr(err, "business")
	}
	return b, nil
}

// CustomerCreated links an existing local customer with the same email to
// the CRM record. Customers are never created from CRM data.
func (s *Service) CustomerCreated(ctx context.Context, tenantID string, evt *CustomerEvent) (*Result, error) {
	if err := s.validate(evt); err != nil {
		return nil, err
	}
	b, err := s.ResolveBusiness(ctx, tenantID, evt.PosBusinessID)
	if err != nil {
		return nil, err
	}

	crmID := evt.Customer.ID
	addr := email(evt.Customer)
	if addr == "" {
		return &Result{Message: "customer creation acknowledged"}, nil
	}

	c, err := s.customers.FindByEmail(ctx, b.ID, addr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("no local customer for crm customer", "crm_id", crmID, "business_id", b.ID.String())
			return &Result{Message: "customer creation acknowledged"}, nil
		}
		return nil, fmt.Errorf("failed to find customer by email: %w", err)
	}

	if err := s.link(ctx, b.ID, c, crmID); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.customers.UpdateSyncState(ctx, c.ID, model.SyncStateSynced, &crmID, &now); err != nil {
		return nil, fmt.Errorf("failed to link customer: %w", err)
	}
	c.ExternalID = &crmID
	c.SyncState = model.SyncStateSynced
	c.LastSyncedAt = &now

	s.logger.Info("linked customer", "customer_id", c.ID.String(), "crm_id", crmID)
	return &Result{Linked: true, Found: true, Message: "customer linked", Customer: c}, nil
}

// CustomerUpdated merges CRM fields into the local customer. Loyalty and
// marketing fields come from the CRM when present. Name and phone stay as
// the POS has them.
func (s *Service) CustomerUpdated(ctx context.Context, tenantID string, evt *CustomerEvent) (*Result, error) {
	if err := s.validate(evt); err != nil {
		return nil, err
	}
	b, err := s.ResolveBusiness(ctx, tenantID, evt.PosBusinessID)
	if err != nil {
		return nil, err
	}

	p := evt.Customer
	c, err := s.resolve(ctx, b.ID, p.ID, email(p))
	if err != nil {
		return nil, err
	}

	if err := s.link(ctx, b.ID, c, p.ID); err != nil {
		return nil, err
	}

	merge(c, p)
	now := s.now()
	c.ExternalID = model.StringPtr(p.ID)
	c.SyncState = model.SyncStateSynced
	c.LastSyncedAt = &now

	if err := s.customers.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to update customer: %w", err)
	}

	s.logger.Info("customer updated from crm",
		"customer_id", c.ID.String(),
		"crm_id", p.ID,
		"loyalty_points", c.LoyaltyPoints,
		"loyalty_tier", c.LoyaltyTier)
	return &Result{Linked: true, Found: true, Message: "customer updated", Customer: c}, nil
}

// CustomerDeleted soft deletes and unlinks the local customer. An unknown
// business or CRM id is treated as already deleted.
func (s *Service) CustomerDeleted(ctx context.Context, tenantID string, evt *DeletedEvent) (*Result, error) {
	if err := s.validate(evt); err != nil {
		return nil, err
	}
	b, err := s.ResolveBusiness(ctx, tenantID, evt.PosBusinessID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			s.logger.Info("delete for unknown business acknowledged", "tenant_id", tenantID, "crm_id", evt.CustomerID)
			return &Result{Message: alreadyDeleted}, nil
		}
		return nil, err
	}

	c, err := s.customers.FindByExternalID(ctx, b.ID, evt.CustomerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &Result{Message: alreadyDeleted}, nil
		}
		return nil, fmt.Errorf("failed to find customer by external id: %w", err)
	}

	now := s.now()
	c.IsActive = false
	c.ExternalID = nil
	c.SyncState = model.SyncStateSynced
	c.LastSyncedAt = &now
	if err := s.customers.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to deactivate customer: %w", err)
	}
	if err := s.mappings.Deactivate(ctx, model.EntityCustomer, c.ID.String()); err != nil {
		return nil, err
	}

	s.logger.Info("customer marked inactive", "customer_id", c.ID.String(), "crm_id", evt.CustomerID)
	return &Result{Found: true, Message: "customer marked as inactive", Customer: c}, nil
}

func (s *Service) validate(evt interface{}) error {
	if err := s.validator.Validate(evt); err != nil {
		return apperrors.BadRequest("missing customer data", err)
	}
	return nil
}

// resolve finds the local customer by CRM id, then by email.
func (s *Service) resolve(ctx context.Context, businessID uuid.UUID, crmID, addr string) (*model.Customer, error) {
	c, err := s.customers.FindByExternalID(ctx, businessID, crmID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to find customer by external id: %w", err)
	}

	if addr != "" {
		c, err = s.customers.FindByEmail(ctx, businessID, addr)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to find customer by email: %w", err)
		}
	}
	return nil, apperrors.NotFound("customer", err)
}

func (s *Service) link(ctx context.Context, businessID uuid.UUID, c *model.Customer, crmID string) error {
	if _, err := s.mappings.Link(ctx, businessID, model.EntityCustomer, c.ID.String(), crmID); err != nil {
		if errors.Is(err, mapping.ErrMappingConflict) {
			return apperrors.Conflict(apperrors.ReasonMappingConflict, "crm customer is already linked to another customer", err)
		}
		return err
	}
	return nil
}

func merge(c *model.Customer, p *CustomerPayload) {
	if p.Email != nil && *p.Email != "" {
		c.Email = model.StringPtr(*p.Email)
	}
	if p.LoyaltyPoints != nil {
		c.LoyaltyPoints = *p.LoyaltyPoints
	}
	if p.LoyaltyTier != nil && *p.LoyaltyTier != "" {
		c.LoyaltyTier = *p.LoyaltyTier
	}
	if p.TotalSpent != nil {
		c.TotalSpent = *p.TotalSpent
	}
	if p.VisitCount != nil {
		c.VisitCount = *p.VisitCount
	}
	if p.MarketingOptIn != nil {
		c.MarketingOptIn = *p.MarketingOptIn
	}
}

func notFoundOr(err error, resource string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound(resource, err)
	}
	return fmt.Errorf("failed to load %s: %w", resource, err)
}
