// Package outbound turns a claimed sync queue row into a CRM call and
// applies the result locally.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
	"github.com/jwalitptl/pos-sync/internal/service/mapping"
	"github.com/jwalitptl/pos-sync/pkg/crm"
	"github.com/jwalitptl/pos-sync/pkg/logger"
)

// Poster sends an authenticated request to the CRM sync API.
type Poster interface {
	Post(ctx context.Context, tenantID, path string, body interface{}) (*crm.Response, error)
}

// Request is what a Syncer wants sent for one queue row. A non-empty
// SkipReason completes the row without any remote call.
type Request struct {
	TenantID   string
	Path       string
	Body       interface{}
	RemoteKey  string
	SkipReason string
}

// Syncer knows how to deliver one entity type.
type Syncer interface {
	// Build loads current local state and prepares the CRM request.
	Build(ctx context.Context, entry *model.SyncQueueEntry) (*Request, error)
	// Apply records a successful delivery on the local entity.
	Apply(ctx context.Context, entry *model.SyncQueueEntry, remoteID string) error
	// Fail records a terminal delivery failure on the local entity.
	Fail(ctx context.Context, entry *model.SyncQueueEntry, cause error) error
}

// Outcome describes a successful dispatch.
type Outcome struct {
	Skipped    bool
	Reason     string
	RemoteID   string
	StatusCode int
}

// Registry maps entity types to their Syncer.
type Registry struct {
	poster   Poster
	mappings mapping.MappingServicer
	syncers  map[model.EntityType]Syncer
	logger   *logger.Logger
}

func NewRegistry(poster Poster, mappings mapping.MappingServicer, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		poster:   poster,
		mappings: mappings,
		syncers:  make(map[model.EntityType]Syncer),
		logger:   log.WithComponent("outbound"),
	}
}

func (r *Registry) Register(entityType model.EntityType, s Syncer) {
	r.syncers[entityType] = s
}

// Supports reports whether a Syncer is registered for entityType.
func (r *Registry) Supports(entityType model.EntityType) bool {
	_, ok := r.syncers[entityType]
	return ok
}

// Dispatch delivers entry. Errors that retrying cannot fix are marked
// with Permanent.
func (r *Registry) Dispatch(ctx context.Context, entry *model.SyncQueueEntry) (*Outcome, error) {
	s, ok := r.syncers[entry.EntityType]
	if !ok {
		return nil, Permanent(fmt.Errorf("no syncer registered for entity type %s", entry.EntityType))
	}

	req, err := s.Build(ctx, entry)
	if err != nil {
		return nil, err
	}
	if req.SkipReason != "" {
		r.logger.Debug("skipping delivery",
			"queue_id", entry.ID.String(),
			"entity_type", string(entry.EntityType),
			"reason", req.SkipReason)
		return &Outcome{Skipped: true, Reason: req.SkipReason}, nil
	}

	resp, err := r.poster.Post(ctx, req.TenantID, req.Path, req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to post %s %s: %w", entry.EntityType, entry.EntityID, err)
	}

	remoteID := resp.RemoteID(req.RemoteKey)
	posID := entry.EntityID.String()

	if entry.Operation == model.OperationDelete {
		if err := r.mappings.Deactivate(ctx, entry.EntityType, posID); err != nil {
			return nil, err
		}
	} else if remoteID != "" {
		if _, err := r.mappings.Link(ctx, entry.BusinessID, entry.EntityType, posID, remoteID); err != nil {
			if errors.Is(err, mapping.ErrMappingConflict) {
				return nil, Permanent(err)
			}
			return nil, err
		}
	}

	if err := s.Apply(ctx, entry, remoteID); err != nil {
		return nil, fmt.Errorf("failed to apply %s result: %w", entry.EntityType, err)
	}

	return &Outcome{RemoteID: remoteID, StatusCode: resp.StatusCode}, nil
}

// Fail records a terminal failure on the local entity and its mapping.
func (r *Registry) Fail(ctx context.Context, entry *model.SyncQueueEntry, cause error) error {
	s, ok := r.syncers[entry.EntityType]
	if !ok {
		return nil
	}
	if err := s.Fail(ctx, entry, cause); err != nil {
		return err
	}
	return r.mappings.MarkFailed(ctx, entry.EntityType, entry.EntityID.String())
}

// NewDefaultRegistry registers the customer and transaction syncers on store.
func NewDefaultRegistry(store *repository.Store, poster Poster, tenantTTL time.Duration, log *logger.Logger) *Registry {
	tenants := NewTenantResolver(store.Businesses, tenantTTL)
	r := NewRegistry(poster, mapping.NewService(store.Mappings), log)
	r.Register(model.EntityCustomer, NewCustomerSyncer(store.Customers, tenants))
	r.Register(model.EntityTransaction, NewTransactionSyncer(store.Transactions, store.Customers, tenants))
	return r
}
