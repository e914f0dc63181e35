package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/repository"
	"github.com/jwalitptl/pos-sync/internal/service/outbound"
	"github.com/jwalitptl/pos-sync/pkg/logger"
	"github.com/jwalitptl/pos-sync/pkg/messaging"
	"github.com/jwalitptl/pos-sync/pkg/metrics"
)

// Dispatcher delivers one claimed row. outbound.Registry implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, entry *model.SyncQueueEntry) (*outbound.Outcome, error)
	Fail(ctx context.Context, entry *model.SyncQueueEntry, cause error) error
}

type SyncProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	// JobTimeout bounds one delivery attempt. Zero disables it.
	JobTimeout time.Duration
	// StuckAfter returns PROCESSING rows older than this to RETRY at the
	// start of each cycle. Zero disables it.
	StuckAfter time.Duration
	// RequestRate limits CRM calls per second. Zero disables throttling.
	RequestRate  float64
	RequestBurst int
	// Channel receives sync events. Empty uses messaging.SyncEventsChannel.
	Channel string
}

// CycleResult counts what one polling cycle did.
type CycleResult struct {
	Reset     int64
	Claimed   int
	Completed int
	Skipped   int
	Retried   int
	Failed    int
}

type SyncProcessor struct {
	queue      repository.SyncQueueRepository
	dispatcher Dispatcher
	broker     messaging.Broker
	limiter    *rate.Limiter
	config     SyncProcessorConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewSyncProcessor validates config and builds the processor. broker may
// be nil, in which case no sync events are published.
func NewSyncProcessor(
	queue repository.SyncQueueRepository,
	dispatcher Dispatcher,
	broker messaging.Broker,
	config SyncProcessorConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *SyncProcessor {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		panic("MaxRetries must be greater than 0")
	}
	if config.BackoffBase <= 0 || config.BackoffMax < config.BackoffBase {
		panic("BackoffBase must be positive and not above BackoffMax")
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewMetrics("", prometheus.NewRegistry())
	}

	if config.Channel == "" {
		config.Channel = messaging.SyncEventsChannel
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RequestRate > 0 {
		burst := config.RequestBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestRate), burst)
	}

	return &SyncProcessor{
		queue:      queue,
		dispatcher: dispatcher,
		broker:     broker,
		limiter:    limiter,
		config:     config,
		logger:     log.WithComponent("sync-processor"),
		metrics:    m,
		now:        time.Now,
	}
}

// Start runs a cycle immediately and then every PollInterval until ctx is
// done. Errors are logged and never stop the loop.
func (p *SyncProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting sync processor",
		"batch_size", p.config.BatchSize,
		"poll_interval", p.config.PollInterval.String(),
		"max_retries", p.config.MaxRetries)

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down sync processor")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *SyncProcessor) tick(ctx context.Context) {
	res, err := p.RunOnce(ctx)
	if err != nil {
		p.logger.Error(err, "Failed to process sync queue")
		return
	}
	if res.Claimed > 0 || res.Reset > 0 {
		p.logger.Info("sync cycle complete",
			"claimed", res.Claimed,
			"completed", res.Completed,
			"skipped", res.Skipped,
			"retried", res.Retried,
			"failed", res.Failed,
			"reset", res.Reset)
	}
}

// RunOnce performs one cycle: reset stuck rows, claim a batch, process each
// row in isolation and refresh the queue depth gauges.
func (p *SyncProcessor) RunOnce(ctx context.Context) (*CycleResult, error) {
	res := &CycleResult{}
	now := p.now()

	if p.config.StuckAfter > 0 {
		n, err := p.queue.ResetStuck(ctx, now.Add(-p.config.StuckAfter), now)
		if err != nil {
			return res, fmt.Errorf("failed to reset stuck entries: %w", err)
		}
		if n > 0 {
			res.Reset = n
			p.metrics.SyncStuckReset.Add(float64(n))
			p.logger.Warn("reset stuck entries", "count", n)
		}
	}

	entries, err := p.queue.ClaimDue(ctx, now, p.config.BatchSize)
	if err != nil {
		return res, fmt.Errorf("failed to claim due entries: %w", err)
	}
	res.Claimed = len(entries)

	for _, entry := range entries {
		switch p.process(ctx, entry) {
		case model.QueueStatusCompleted:
			res.Completed++
		case statusSkipped:
			res.Completed++
			res.Skipped++
		case model.QueueStatusRetry:
			res.Retried++
		case model.QueueStatusFailed:
			res.Failed++
		}
	}

	p.refreshDepth(ctx)
	return res, nil
}

const statusSkipped model.QueueStatus = "SKIPPED"

func (p *SyncProcessor) process(ctx context.Context, entry *model.SyncQueueEntry) model.QueueStatus {
	et := string(entry.EntityType)
	timer := prometheus.NewTimer(p.metrics.SyncProcessingLatency.WithLabelValues(et))
	defer timer.ObserveDuration()

	out, err := p.deliver(ctx, entry)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			p.release(entry)
			return model.QueueStatusRetry
		}
		return p.fail(ctx, entry, err)
	}

	now := p.now()
	if err := p.queue.MarkCompleted(ctx, entry.ID, now); err != nil {
		p.logger.Error(err, "Failed to mark entry completed", "queue_id", entry.ID.String())
		return ""
	}

	p.publish(ctx, entry, model.QueueStatusCompleted, entry.RetryCount, "", out.RemoteID)
	if out.Skipped {
		p.metrics.SyncJobsSkipped.WithLabelValues(et).Inc()
		return statusSkipped
	}
	p.metrics.SyncJobsCompleted.WithLabelValues(et).Inc()
	p.logger.Debug("delivered",
		"queue_id", entry.ID.String(),
		"entity_type", et,
		"entity_id", entry.EntityID.String(),
		"remote_id", out.RemoteID)
	return model.QueueStatusCompleted
}

// deliver throttles and dispatches one row. A panic in a syncer becomes an
// ordinary failure of this row only.
func (p *SyncProcessor) deliver(ctx context.Context, entry *model.SyncQueueEntry) (out *outbound.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic while processing %s %s: %v", entry.EntityType, entry.EntityID, r)
		}
	}()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	jobCtx := ctx
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	out, err = p.dispatcher.Dispatch(jobCtx, entry)
	if err == nil && out == nil {
		out = &outbound.Outcome{}
	}
	return out, err
}

func (p *SyncProcessor) fail(ctx context.Context, entry *model.SyncQueueEntry, cause error) model.QueueStatus {
	et := string(entry.EntityType)
	retryCount := entry.RetryCount + 1
	msg := cause.Error()
	now := p.now()

	if outbound.IsPermanent(cause) || retryCount >= p.config.MaxRetries {
		if err := p.queue.MarkFailed(ctx, entry.ID, retryCount, msg, now); err != nil {
			p.logger.Error(err, "Failed to mark entry failed", "queue_id", entry.ID.String())
			return ""
		}
		if err := p.dispatcher.Fail(ctx, entry, cause); err != nil {
			p.logger.Error(err, "Failed to record failure on entity", "queue_id", entry.ID.String())
		}
		p.metrics.SyncJobsFailed.WithLabelValues(et).Inc()
		p.logger.Error(cause, "sync job failed",
			"queue_id", entry.ID.String(),
			"entity_type", et,
			"entity_id", entry.EntityID.String(),
			"retry_count", retryCount,
			"permanent", outbound.IsPermanent(cause))
		p.publish(ctx, entry, model.QueueStatusFailed, retryCount, msg, "")
		return model.QueueStatusFailed
	}

	next := now.Add(Backoff(retryCount, p.config.BackoffBase, p.config.BackoffMax))
	if err := p.queue.MarkRetry(ctx, entry.ID, retryCount, msg, next); err != nil {
		p.logger.Error(err, "Failed to schedule retry", "queue_id", entry.ID.String())
		return ""
	}
	p.metrics.SyncJobsRetried.WithLabelValues(et).Inc()
	p.logger.Warn("sync job scheduled for retry",
		"queue_id", entry.ID.String(),
		"entity_type", et,
		"retry_count", retryCount,
		"scheduled_for", next.Format(time.RFC3339),
		"error", msg)
	p.publish(ctx, entry, model.QueueStatusRetry, retryCount, msg, "")
	return model.QueueStatusRetry
}

// release hands a row claimed during shutdown back to the queue without
// spending a retry.
func (p *SyncProcessor) release(entry *model.SyncQueueEntry) {
	msg := "released during shutdown"
	if entry.ErrorMessage != nil {
		msg = *entry.ErrorMessage
	}
	if err := p.queue.MarkRetry(context.Background(), entry.ID, entry.RetryCount, msg, p.now()); err != nil {
		p.logger.Error(err, "Failed to release entry", "queue_id", entry.ID.String())
	}
}

func (p *SyncProcessor) publish(ctx context.Context, entry *model.SyncQueueEntry, status model.QueueStatus, retryCount int, errMsg, remoteID string) {
	if p.broker == nil {
		return
	}
	evt := messaging.SyncEvent{
		ID:         entry.ID.String(),
		BusinessID: entry.BusinessID.String(),
		EntityType: string(entry.EntityType),
		EntityID:   entry.EntityID.String(),
		Operation:  string(entry.Operation),
		Status:     string(status),
		RetryCount: retryCount,
		Error:      errMsg,
		RemoteID:   remoteID,
		OccurredAt: p.now().UTC(),
	}
	if err := p.broker.Publish(ctx, p.config.Channel, evt); err != nil {
		p.metrics.RedisOperations.WithLabelValues("publish", "error").Inc()
		p.logger.Error(err, "Failed to publish sync event", "queue_id", entry.ID.String())
		return
	}
	p.metrics.RedisOperations.WithLabelValues("publish", "success").Inc()
}

func (p *SyncProcessor) refreshDepth(ctx context.Context) {
	stats, err := p.queue.CountByStatus(ctx, nil)
	if err != nil {
		p.logger.Error(err, "Failed to count queue")
		return
	}
	p.metrics.SyncQueueDepth.WithLabelValues(string(model.QueueStatusPending)).Set(float64(stats.Pending))
	p.metrics.SyncQueueDepth.WithLabelValues(string(model.QueueStatusProcessing)).Set(float64(stats.Processing))
	p.metrics.SyncQueueDepth.WithLabelValues(string(model.QueueStatusRetry)).Set(float64(stats.Retry))
	p.metrics.SyncQueueDepth.WithLabelValues(string(model.QueueStatusFailed)).Set(float64(stats.Failed))
	p.metrics.SyncQueueDepth.WithLabelValues(string(model.QueueStatusCompleted)).Set(float64(stats.Completed))
}
