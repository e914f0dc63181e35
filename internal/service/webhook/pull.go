package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
	"github.com/jwalitptl/pos-sync/pkg/crm"
	apperrors "github.com/jwalitptl/pos-sync/pkg/errors"
	"github.com/jwalitptl/pos-sync/pkg/logger"
)

// CustomerLister is satisfied by *crm.Client.
type CustomerLister interface {
	ListCustomers(ctx context.Context, tenantID string) ([]crm.Customer, error)
}

type PullServicer interface {
	Pull(ctx context.Context, businessID uuid.UUID) (*PullResult, error)
	PullAll(ctx context.Context) ([]*PullResult, error)
}

// PullResult summarises one pull for one business.
type PullResult struct {
	BusinessID uuid.UUID   `json:"business_id"`
	TenantID   string      `json:"tenant_id"`
	Fetched    int         `json:"fetched"`
	Updated    int         `json:"updated"`
	Unmatched  int         `json:"unmatched"`
	Failed     int         `json:"failed"`
	Errors     []PullError `json:"errors,omitempty"`
}

type PullError struct {
	CRMID string `json:"crm_id"`
	Error string `json:"error"`
}

// Puller brings CRM loyalty state into local customers on a schedule, for
// changes whose webhook never arrived. It applies the same merge as
// customer-updated and never creates customers.
type Puller struct {
	svc        *Service
	businesses repository.BusinessRepository
	lister     CustomerLister
	logger     *logger.Logger
}

func NewPuller(svc *Service, lister CustomerLister, log *logger.Logger) *Puller {
	if log == nil {
		log = logger.Nop()
	}
	return &Puller{
		svc:        svc,
		businesses: svc.businesses,
		lister:     lister,
		logger:     log.WithComponent("crm-pull"),
	}
}

// PullAll pulls every business with a CRM tenant. A failed business is
// logged and does not stop the others.
func (p *Puller) PullAll(ctx context.Context) ([]*PullResult, error) {
	list, err := p.businesses.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}

	results := make([]*PullResult, 0, len(list))
	for _, b := range list {
		if b.TenantID() == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := p.pull(ctx, b)
		if err != nil {
			p.logger.Error(err, "crm pull failed", "business_id", b.ID.String())
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *Puller) Pull(ctx context.Context, businessID uuid.UUID) (*PullResult, error) {
	b, err := p.businesses.Get(ctx, businessID)
	if err != nil {
		return nil, notFoundOr(err, "business")
	}
	if b.TenantID() == "" {
		return nil, apperrors.BadRequest("business has no crm tenant", nil)
	}
	return p.pull(ctx, b)
}

func (p *Puller) pull(ctx context.Context, b *model.Business) (*PullResult, error) {
	tenantID := b.TenantID()
	customers, err := p.lister.ListCustomers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list crm customers: %w", err)
	}

	res := &PullResult{BusinessID: b.ID, TenantID: tenantID, Fetched: len(customers)}
	for i := range customers {
		crmCustomer := &customers[i]
		if crmCustomer.ID == "" {
			res.Unmatched++
			continue
		}
		updated, err := p.apply(ctx, b.ID, crmCustomer)
		switch {
		case err != nil:
			res.Failed++
			res.Errors = append(res.Errors, PullError{CRMID: crmCustomer.ID, Error: err.Error()})
			p.logger.Warn("failed to apply crm customer", "business_id", b.ID.String(), "crm_id", crmCustomer.ID, "error", err.Error())
		case updated:
			res.Updated++
		default:
			res.Unmatched++
		}
	}

	p.logger.Info("crm pull complete",
		"business_id", b.ID.String(),
		"fetched", res.Fetched,
		"updated", res.Updated,
		"unmatched", res.Unmatched,
		"failed", res.Failed)
	return res, nil
}

func (p *Puller) apply(ctx context.Context, businessID uuid.UUID, in *crm.Customer) (bool, error) {
	payload := payloadFrom(in)

	c, err := p.find(ctx, businessID, payload)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if c.IsAnonymous || !c.IsActive {
		return false, nil
	}

	if err := p.svc.link(ctx, businessID, c, payload.ID); err != nil {
		return false, err
	}

	merge(c, payload)
	now := p.svc.now()
	c.ExternalID = model.StringPtr(payload.ID)
	c.SyncState = model.SyncStateSynced
	c.LastSyncedAt = &now

	if err := p.svc.customers.Update(ctx, c); err != nil {
		return false, fmt.Errorf("failed to update customer: %w", err)
	}
	return true, nil
}

// find resolves by CRM id then email, and falls back to phone.
func (p *Puller) find(ctx context.Context, businessID uuid.UUID, payload *CustomerPayload) (*model.Customer, error) {
	c, err := p.svc.resolve(ctx, businessID, payload.ID, email(payload))
	if err == nil || !apperrors.Is(err, apperrors.ErrNotFound) {
		return c, err
	}
	if payload.Phone == nil || *payload.Phone == "" {
		return nil, err
	}

	c, perr := p.svc.customers.FindByPhone(ctx, businessID, *payload.Phone)
	if perr != nil {
		if errors.Is(perr, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find customer by phone: %w", perr)
	}
	return c, nil
}

func payloadFrom(in *crm.Customer) *CustomerPayload {
	return &CustomerPayload{
		ID:             in.ID,
		Email:          in.Email,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Phone:          in.Phone,
		LoyaltyPoints:  in.LoyaltyPoints,
		LoyaltyTier:    in.LoyaltyTier,
		TotalSpent:     in.TotalSpent,
		VisitCount:     in.VisitCount,
		MarketingOptIn: in.MarketingOptIn,
	}
}

var _ PullServicer = (*Puller)(nil)
