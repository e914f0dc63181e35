package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
	"github.com/jwalitptl/pos-sync/internal/repository/memory"
	"github.com/jwalitptl/pos-sync/internal/service/syncqueue"
	webhookService "github.com/jwalitptl/pos-sync/internal/service/webhook"
	"github.com/jwalitptl/pos-sync/pkg/crm"
	"github.com/jwalitptl/pos-sync/pkg/messaging"
)

type chanBroker struct {
	msgs chan []byte
}

func (b *chanBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}
	b.msgs <- raw
	return nil
}

func (b *chanBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return b.msgs, nil
}

func (b *chanBroker) Close() error { return nil }

type healthFunc func(ctx context.Context) *crm.HealthResult

func (f healthFunc) Health(ctx context.Context) *crm.HealthResult { return f(ctx) }

type listerFunc func(ctx context.Context, tenantID string) ([]crm.Customer, error)

func (f listerFunc) ListCustomers(ctx context.Context, tenantID string) ([]crm.Customer, error) {
	return f(ctx, tenantID)
}

type env struct {
	db       *memory.DB
	store    *repository.Store
	deps     *Deps
	business *model.Business
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := memory.NewDB()
	store := memory.NewStore(db)
	b := db.AddBusiness(&model.Business{Name: "Corner Shop"})
	return &env{
		db:       db,
		store:    store,
		business: b,
		deps: &Deps{
			Store: store,
			Queue: syncqueue.NewService(store, nil),
		},
	}
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand(func(ctx context.Context) (*Deps, error) { return e.deps, nil })
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInvalidFormat(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "stats", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestReconcileAndStats(t *testing.T) {
	e := newEnv(t)
	e.db.CreateCustomer(&model.Customer{BusinessID: e.business.ID, FirstName: "Ada", Email: model.StringPtr("a@x.com"), IsActive: true})
	e.db.CreateCustomer(&model.Customer{BusinessID: e.business.ID, FirstName: "Walk-in", IsAnonymous: true})

	out, err := e.run(t, "reconcile", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string                    `json:"status"`
		Data   syncqueue.ReconcileResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Added)

	out, err = e.run(t, "stats", "--business", e.business.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "PENDING")
	assert.Regexp(t, `PENDING\s+1`, out)
}

func TestRetryFailed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.db.CreateCustomer(&model.Customer{BusinessID: e.business.ID, FirstName: "Ada"})

	entry, err := e.deps.Queue.EnqueueCustomer(ctx, c, model.OperationCreate)
	require.NoError(t, err)
	now := time.Now()
	_, err = e.store.Queue.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.NoError(t, e.store.Queue.MarkFailed(ctx, entry.ID, 5, "crm said no", now))

	out, err := e.run(t, "failed")
	require.NoError(t, err)
	assert.Contains(t, out, "crm said no")

	out, err = e.run(t, "retry", entry.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "requeued 1 job(s)")

	_, err = e.run(t, "retry", "not-a-uuid")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEnqueue(t *testing.T) {
	e := newEnv(t)
	c := e.db.CreateCustomer(&model.Customer{BusinessID: e.business.ID, FirstName: "Ada"})
	walkIn := e.db.CreateCustomer(&model.Customer{BusinessID: e.business.ID, IsAnonymous: true})

	out, err := e.run(t, "enqueue", c.ID.String(), "--op", "CREATE")
	require.NoError(t, err)
	assert.Contains(t, out, "PENDING")

	out, err = e.run(t, "enqueue", walkIn.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to sync")

	_, err = e.run(t, "enqueue", c.ID.String(), "--op", "UPSERT")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = e.run(t, "enqueue", c.ID.String(), "--type", "PRODUCT")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestWatchPrintsEvents(t *testing.T) {
	e := newEnv(t)
	broker := &chanBroker{msgs: make(chan []byte, 2)}
	e.deps.Broker = broker

	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, messaging.SyncEventsChannel, messaging.SyncEvent{
		EntityType: "CUSTOMER", EntityID: "c-1", Operation: "CREATE", Status: "COMPLETED", RemoteID: "crm-1",
	}))
	require.NoError(t, broker.Publish(ctx, messaging.SyncEventsChannel, messaging.SyncEvent{
		EntityType: "CUSTOMER", EntityID: "c-2", Operation: "UPDATE", Status: "FAILED", RetryCount: 5, Error: "boom",
	}))

	out, err := e.run(t, "watch", "--count", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "remote=crm-1")
	assert.Contains(t, out, "error=boom")
}

func TestWatchWithoutRedis(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "watch")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCRMHealth(t *testing.T) {
	e := newEnv(t)

	e.deps.CRM = healthFunc(func(ctx context.Context) *crm.HealthResult {
		return &crm.HealthResult{OK: true, StatusCode: 200, URL: "http://crm"}
	})
	out, err := e.run(t, "crm-health")
	require.NoError(t, err)
	assert.Contains(t, out, "UP")

	e.deps.CRM = healthFunc(func(ctx context.Context) *crm.HealthResult {
		return &crm.HealthResult{URL: "http://crm", Error: "connection refused"}
	})
	out, err = e.run(t, "crm-health")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "connection refused")
}

func TestOpenFailureIsCommandError(t *testing.T) {
	cmd := NewRootCommand(func(ctx context.Context) (*Deps, error) { return nil, errors.New("dial tcp: refused") })
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"stats"})

	err := cmd.Execute()
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPull(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	linked := e.db.AddBusiness(&model.Business{Name: "Linked Shop", ExternalTenantID: model.StringPtr("tenant-1")})
	c := e.db.CreateCustomer(&model.Customer{BusinessID: linked.ID, FirstName: "Ada", Email: model.StringPtr("a@x.com"), IsActive: true})

	points := 75
	lister := listerFunc(func(ctx context.Context, tenantID string) ([]crm.Customer, error) {
		assert.Equal(t, "tenant-1", tenantID)
		return []crm.Customer{
			{ID: "crm-1", Email: model.StringPtr("a@x.com"), LoyaltyPoints: &points},
			{ID: "crm-2", Email: model.StringPtr("nobody@x.com")},
		}, nil
	})
	e.deps.Puller = webhookService.NewPuller(webhookService.NewService(e.store, nil, nil), lister, nil)

	out, err := e.run(t, "pull")
	require.NoError(t, err)
	assert.Contains(t, out, linked.ID.String())
	assert.Regexp(t, `updated\s+1`, out)
	assert.Regexp(t, `unmatched\s+1`, out)
	assert.NotContains(t, out, e.business.ID.String())

	got, err := e.store.Customers.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 75, got.LoyaltyPoints)

	_, err = e.run(t, "pull", "--business", e.business.ID.String())
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestPullWithoutCRM(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "pull")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
