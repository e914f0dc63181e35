package outbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
	"github.com/jwalitptl/pos-sync/internal/repository/memory"
	"github.com/jwalitptl/pos-sync/pkg/crm"
)

type MockPoster struct {
	mock.Mock
}

func (m *MockPoster) Post(ctx context.Context, tenantID, path string, body interface{}) (*crm.Response, error) {
	args := m.Called(ctx, tenantID, path, body)
	resp, _ := args.Get(0).(*crm.Response)
	return resp, args.Error(1)
}

type fixture struct {
	db       *memory.DB
	store    *repository.Store
	poster   *MockPoster
	registry *Registry
	business *model.Business
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.NewDB()
	store := memory.NewStore(db)
	poster := new(MockPoster)
	b := db.AddBusiness(&model.Business{Name: "Corner Shop", ExternalTenantID: model.StringPtr("tenant-1")})
	return &fixture{
		db:       db,
		store:    store,
		poster:   poster,
		registry: NewDefaultRegistry(store, poster, time.Minute, nil),
		business: b,
	}
}

func (f *fixture) entry(et model.EntityType, id uuid.UUID, op model.Operation, payload string) *model.SyncQueueEntry {
	if payload == "" {
		payload = `{}`
	}
	return &model.SyncQueueEntry{
		ID:         uuid.New(),
		BusinessID: f.business.ID,
		EntityType: et,
		EntityID:   id,
		Operation:  op,
		Priority:   model.PriorityNormal,
		Status:     model.QueueStatusProcessing,
		Payload:    []byte(payload),
	}
}

func TestDispatchCustomerLinksMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.db.CreateCustomer(&model.Customer{
		BusinessID:    f.business.ID,
		FirstName:     "Ada",
		Email:         model.StringPtr("ada@example.com"),
		LoyaltyPoints: 120,
		TotalSpent:    decimal.NewFromFloat(42.5),
	})

	var sent *model.CustomerSnapshot
	f.poster.On("Post", mock.Anything, "tenant-1", crm.CustomerPath, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(3).(*model.CustomerSnapshot) }).
		Return(&crm.Response{StatusCode: 201, Body: []byte(`{"customer":{"id":"crm-1"}}`)}, nil).
		Once()

	out, err := f.registry.Dispatch(ctx, f.entry(model.EntityCustomer, c.ID, model.OperationCreate, ""))
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Equal(t, "crm-1", out.RemoteID)
	f.poster.AssertExpectations(t)

	require.NotNil(t, sent)
	assert.Equal(t, "tenant-1", sent.TenantID)
	assert.Equal(t, 120, sent.LoyaltyPoints)
	assert.Equal(t, "42.50", sent.TotalSpent)

	got, err := f.store.Customers.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateSynced, got.SyncState)
	require.NotNil(t, got.ExternalID)
	assert.Equal(t, "crm-1", *got.ExternalID)

	m, err := f.store.Mappings.GetByPosID(ctx, model.EntityCustomer, c.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "crm-1", m.CrmID)
	assert.Equal(t, model.MappingStatusActive, m.SyncStatus)
}

func TestDispatchSkipsAnonymous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	walkIn := f.db.CreateCustomer(&model.Customer{BusinessID: f.business.ID, FirstName: "Walk-in", IsAnonymous: true})
	txn := f.db.AddTransaction(&model.Transaction{BusinessID: f.business.ID, CustomerID: &walkIn.ID, TransactionNumber: "T-1"})

	out, err := f.registry.Dispatch(ctx, f.entry(model.EntityCustomer, walkIn.ID, model.OperationUpdate, ""))
	require.NoError(t, err)
	assert.True(t, out.Skipped)

	out, err = f.registry.Dispatch(ctx, f.entry(model.EntityTransaction, txn.ID, model.OperationCreate, ""))
	require.NoError(t, err)
	assert.True(t, out.Skipped)

	f.poster.AssertNotCalled(t, "Post", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchDeletedCustomerUsesSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.db.CreateCustomer(&model.Customer{BusinessID: f.business.ID, FirstName: "Ada"})
	_, err := f.registry.mappings.Link(ctx, f.business.ID, model.EntityCustomer, c.ID.String(), "crm-7")
	require.NoError(t, err)
	f.db.DeleteCustomer(c.ID)

	payload := `{"customerId":"` + c.ID.String() + `","firstName":"Ada","loyaltyPoints":5}`
	var sent *model.CustomerSnapshot
	f.poster.On("Post", mock.Anything, "tenant-1", crm.CustomerPath, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(3).(*model.CustomerSnapshot) }).
		Return(&crm.Response{StatusCode: 200, Body: []byte(`{"success":true}`)}, nil)

	_, err = f.registry.Dispatch(ctx, f.entry(model.EntityCustomer, c.ID, model.OperationDelete, payload))
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.True(t, sent.Deleted)
	assert.Equal(t, 5, sent.LoyaltyPoints)

	m, err := f.store.Mappings.GetByPosID(ctx, model.EntityCustomer, c.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.MappingStatusInactive, m.SyncStatus)
}

func TestDispatchVanishedWithoutSnapshotIsPermanent(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.Dispatch(context.Background(), f.entry(model.EntityCustomer, uuid.New(), model.OperationUpdate, ""))
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestDispatchUnknownEntityIsPermanent(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.Dispatch(context.Background(), f.entry(model.EntityProduct, uuid.New(), model.OperationCreate, ""))
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.False(t, f.registry.Supports(model.EntityProduct))
}

func TestDispatchErrorsClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "server error", err: &crm.StatusError{StatusCode: 503}, permanent: false},
		{name: "rate limited", err: &crm.StatusError{StatusCode: 429}, permanent: false},
		{name: "rejected", err: &crm.StatusError{StatusCode: 422}, permanent: true},
		{name: "network", err: errors.New("connection refused"), permanent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.db.CreateCustomer(&model.Customer{BusinessID: f.business.ID, FirstName: "Ada"})
			f.poster.On("Post", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			_, err := f.registry.Dispatch(context.Background(), f.entry(model.EntityCustomer, c.ID, model.OperationCreate, ""))
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestDispatchMissingTenantIsTransient(t *testing.T) {
	f := newFixture(t)
	other := f.db.AddBusiness(&model.Business{Name: "Unmapped"})
	c := f.db.CreateCustomer(&model.Customer{BusinessID: other.ID, FirstName: "Ada"})

	entry := f.entry(model.EntityCustomer, c.ID, model.OperationCreate, "")
	entry.BusinessID = other.ID

	_, err := f.registry.Dispatch(context.Background(), entry)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestDispatchMappingConflictIsPermanent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.db.CreateCustomer(&model.Customer{BusinessID: f.business.ID, FirstName: "Ada"})
	second := f.db.CreateCustomer(&model.Customer{BusinessID: f.business.ID, FirstName: "Grace"})
	_, err := f.registry.mappings.Link(ctx, f.business.ID, model.EntityCustomer, first.ID.String(), "crm-1")
	require.NoError(t, err)

	f.poster.On("Post", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&crm.Response{StatusCode: 200, Body: []byte(`{"data":{"id":"crm-1"}}`)}, nil)

	_, err = f.registry.Dispatch(ctx, f.entry(model.EntityCustomer, second.ID, model.OperationCreate, ""))
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestDispatchTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.db.CreateCustomer(&model.Customer{BusinessID: f.business.ID, FirstName: "Ada", Email: model.StringPtr("ada@example.com")})
	txn := f.db.AddTransaction(&model.Transaction{
		BusinessID:        f.business.ID,
		CustomerID:        &c.ID,
		TransactionNumber: "T-100",
		Subtotal:          decimal.NewFromInt(10),
		Total:             decimal.NewFromInt(11),
		Items: []model.TransactionItem{
			{ProductName: "Coffee", SKU: "COF-1", Quantity: 2, UnitPrice: decimal.NewFromInt(5), Total: decimal.NewFromInt(10)},
		},
	})

	var sent *model.TransactionSnapshot
	f.poster.On("Post", mock.Anything, "tenant-1", crm.TransactionPath, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(3).(*model.TransactionSnapshot) }).
		Return(&crm.Response{StatusCode: 201, Body: []byte(`{"transaction":{"id":99}}`)}, nil)

	out, err := f.registry.Dispatch(ctx, f.entry(model.EntityTransaction, txn.ID, model.OperationCreate, ""))
	require.NoError(t, err)
	assert.Equal(t, "99", out.RemoteID)

	require.NotNil(t, sent)
	assert.Equal(t, "ada@example.com", sent.CustomerEmail)
	assert.Equal(t, "11.00", sent.Total)
	require.Len(t, sent.Items, 1)
	assert.Equal(t, "COF-1", sent.Items[0].SKU)

	got, err := f.store.Transactions.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionSyncSuccess, got.SyncStatus)
	assert.NotNil(t, got.LastSyncedAt)
}

func TestFailMarksEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.db.AddTransaction(&model.Transaction{BusinessID: f.business.ID, TransactionNumber: "T-1"})

	entry := f.entry(model.EntityTransaction, txn.ID, model.OperationCreate, "")
	require.NoError(t, f.registry.Fail(ctx, entry, errors.New("crm returned status 422")))

	got, err := f.store.Transactions.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionSyncFailed, got.SyncStatus)
	require.NotNil(t, got.SyncError)
	assert.Equal(t, "crm returned status 422", *got.SyncError)
}
