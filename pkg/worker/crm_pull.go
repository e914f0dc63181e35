package worker

import (
	"context"
	"time"

	webhookService "github.com/jwalitptl/pos-sync/internal/service/webhook"
	"github.com/jwalitptl/pos-sync/pkg/logger"
	"github.com/jwalitptl/pos-sync/pkg/metrics"
)

// CRMPuller runs the CRM customer pull for every linked business on a fixed
// interval. The first run happens one interval after Start.
type CRMPuller struct {
	puller   webhookService.PullServicer
	interval time.Duration
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewCRMPuller(puller webhookService.PullServicer, interval time.Duration, log *logger.Logger, m *metrics.Metrics) *CRMPuller {
	if log == nil {
		log = logger.Nop()
	}
	return &CRMPuller{
		puller:   puller,
		interval: interval,
		logger:   log.WithComponent("crm-puller"),
		metrics:  m,
	}
}

// Start blocks until ctx is done. A non-positive interval returns at once.
func (p *CRMPuller) Start(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Info("CRM pull disabled")
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.logger.Error(err, "Failed to pull CRM customers")
			}
		}
	}
}

func (p *CRMPuller) RunOnce(ctx context.Context) ([]*webhookService.PullResult, error) {
	results, err := p.puller.PullAll(ctx)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		for _, res := range results {
			p.metrics.CRMCustomersPulled.WithLabelValues("updated").Add(float64(res.Updated))
			p.metrics.CRMCustomersPulled.WithLabelValues("unmatched").Add(float64(res.Unmatched))
			p.metrics.CRMCustomersPulled.WithLabelValues("failed").Add(float64(res.Failed))
		}
	}
	return results, nil
}
