package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/pos-sync/internal/repository"
	"github.com/jwalitptl/pos-sync/pkg/logger"
	"github.com/jwalitptl/pos-sync/pkg/metrics"
)

// Janitor removes COMPLETED queue rows older than the retention period.
type Janitor struct {
	repo      repository.SyncQueueRepository
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewJanitor(repo repository.SyncQueueRepository, retention, interval time.Duration, log *logger.Logger, m *metrics.Metrics) *Janitor {
	if log == nil {
		log = logger.Nop()
	}
	return &Janitor{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    log.WithComponent("janitor"),
		metrics:   m,
	}
}

func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error(err, "Failed to clean up sync queue")
			}
		}
	}
}

func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-j.retention)
	n, err := j.repo.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if j.metrics != nil {
			j.metrics.SyncCleanedUp.Add(float64(n))
		}
		j.logger.Info("removed completed entries", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}
