package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
	"github.com/jwalitptl/pos-sync/internal/repository/memory"
	"github.com/jwalitptl/pos-sync/internal/service/outbound"
	"github.com/jwalitptl/pos-sync/pkg/messaging"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	dispatch func(entry *model.SyncQueueEntry) (*outbound.Outcome, error)
	calls    int
	failed   []uuid.UUID
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, entry *model.SyncQueueEntry) (*outbound.Outcome, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.dispatch(entry)
}

func (d *fakeDispatcher) Fail(ctx context.Context, entry *model.SyncQueueEntry, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = append(d.failed, entry.ID)
	return nil
}

type fakeBroker struct {
	mu     sync.Mutex
	events []messaging.SyncEvent
}

func (b *fakeBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if evt, ok := message.(messaging.SyncEvent); ok {
		b.events = append(b.events, evt)
	}
	return nil
}

func (b *fakeBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBroker) Close() error { return nil }

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		BatchSize:    10,
		PollInterval: time.Minute,
		MaxRetries:   5,
		BackoffBase:  time.Minute,
		BackoffMax:   time.Hour,
	}
}

func newProcessor(t *testing.T, d Dispatcher, b messaging.Broker) (*SyncProcessor, repository.SyncQueueRepository, *clock) {
	t.Helper()
	store := memory.NewStore(memory.NewDB())
	clk := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := NewSyncProcessor(store.Queue, d, b, testConfig(), nil, nil)
	p.now = clk.now
	return p, store.Queue, clk
}

func enqueue(t *testing.T, q repository.SyncQueueRepository, clk *clock, priority model.Priority) *model.SyncQueueEntry {
	t.Helper()
	e, created, err := q.InsertIfNoLive(context.Background(), &model.SyncQueueEntry{
		BusinessID:   uuid.New(),
		EntityType:   model.EntityCustomer,
		EntityID:     uuid.New(),
		Operation:    model.OperationCreate,
		Priority:     priority,
		ScheduledFor: clk.now(),
		CreatedAt:    clk.now(),
	})
	require.NoError(t, err)
	require.True(t, created)
	return e
}

func TestRunOnceCompletes(t *testing.T) {
	d := &fakeDispatcher{dispatch: func(*model.SyncQueueEntry) (*outbound.Outcome, error) {
		return &outbound.Outcome{RemoteID: "crm-1", StatusCode: 201}, nil
	}}
	broker := &fakeBroker{}
	p, q, clk := newProcessor(t, d, broker)
	e := enqueue(t, q, clk, model.PriorityNormal)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Claimed)
	assert.Equal(t, 1, res.Completed)

	got, err := q.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, got.Status)
	require.NotNil(t, got.ProcessedAt)
	assert.True(t, got.ProcessedAt.Equal(clk.now()))
	assert.Nil(t, got.ErrorMessage)

	require.Len(t, broker.events, 1)
	assert.Equal(t, "COMPLETED", broker.events[0].Status)
	assert.Equal(t, "crm-1", broker.events[0].RemoteID)
}

func TestRetryExhaustion(t *testing.T) {
	d := &fakeDispatcher{dispatch: func(*model.SyncQueueEntry) (*outbound.Outcome, error) {
		return nil, errors.New("connection refused")
	}}
	p, q, clk := newProcessor(t, d, nil)
	e := enqueue(t, q, clk, model.PriorityNormal)
	ctx := context.Background()

	start := clk.now()
	res, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	got, err := q.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusRetry, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.True(t, got.ScheduledFor.Equal(start.Add(2*time.Minute)), "got %s", got.ScheduledFor)

	// Not yet due.
	res, err = p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)

	for i := 0; i < 4; i++ {
		clk.advance(2 * time.Hour)
		_, err := p.RunOnce(ctx)
		require.NoError(t, err)
	}

	got, err = q.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusFailed, got.Status)
	assert.Equal(t, 5, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "connection refused")
	assert.Equal(t, 5, d.calls)
	assert.Equal(t, []uuid.UUID{e.ID}, d.failed)

	clk.advance(2 * time.Hour)
	res, err = p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
}

func TestPermanentFailureSkipsRetries(t *testing.T) {
	d := &fakeDispatcher{dispatch: func(*model.SyncQueueEntry) (*outbound.Outcome, error) {
		return nil, outbound.Permanent(errors.New("crm returned status 422"))
	}}
	broker := &fakeBroker{}
	p, q, clk := newProcessor(t, d, broker)
	e := enqueue(t, q, clk, model.PriorityNormal)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got, err := q.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.Len(t, broker.events, 1)
	assert.Equal(t, "FAILED", broker.events[0].Status)
}

func TestPanicIsIsolated(t *testing.T) {
	var poisoned uuid.UUID
	d := &fakeDispatcher{dispatch: func(entry *model.SyncQueueEntry) (*outbound.Outcome, error) {
		if entry.ID == poisoned {
			panic("boom")
		}
		return &outbound.Outcome{}, nil
	}}
	p, q, clk := newProcessor(t, d, nil)
	bad := enqueue(t, q, clk, model.PriorityHigh)
	poisoned = bad.ID
	good := enqueue(t, q, clk, model.PriorityNormal)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Claimed)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 1, res.Completed)

	got, err := q.Get(context.Background(), bad.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusRetry, got.Status)
	assert.Contains(t, *got.ErrorMessage, "panic")

	got, err = q.Get(context.Background(), good.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, got.Status)
}

func TestSkippedCompletesWithoutCall(t *testing.T) {
	d := &fakeDispatcher{dispatch: func(*model.SyncQueueEntry) (*outbound.Outcome, error) {
		return &outbound.Outcome{Skipped: true, Reason: "anonymous customer"}, nil
	}}
	p, q, clk := newProcessor(t, d, nil)
	e := enqueue(t, q, clk, model.PriorityNormal)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	got, err := q.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, got.Status)
}

func TestCancelledCycleReleasesRows(t *testing.T) {
	d := &fakeDispatcher{dispatch: func(*model.SyncQueueEntry) (*outbound.Outcome, error) {
		return &outbound.Outcome{}, nil
	}}
	p, q, clk := newProcessor(t, d, nil)
	e := enqueue(t, q, clk, model.PriorityNormal)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.RunOnce(ctx)
	require.NoError(t, err)

	got, err := q.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusRetry, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Zero(t, d.calls)
}

func TestResetStuckBeforeClaim(t *testing.T) {
	d := &fakeDispatcher{dispatch: func(*model.SyncQueueEntry) (*outbound.Outcome, error) {
		return &outbound.Outcome{}, nil
	}}
	p, q, clk := newProcessor(t, d, nil)
	p.config.StuckAfter = 30 * time.Minute
	e := enqueue(t, q, clk, model.PriorityNormal)

	// A worker claimed the row and died an hour ago.
	claimed, err := q.ClaimDue(context.Background(), clk.now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	clk.advance(time.Hour)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Reset)
	assert.Equal(t, 1, res.Completed)

	got, err := q.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, got.Status)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{5, 32 * time.Minute},
		{6, time.Hour},
		{40, time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt, time.Minute, time.Hour), "attempt %d", tt.attempt)
	}
}

func TestNewSyncProcessorRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 0
	assert.Panics(t, func() { NewSyncProcessor(nil, nil, nil, cfg, nil, nil) })
}
