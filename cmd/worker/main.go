package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwalitptl/pos-sync/internal/app"
	"github.com/jwalitptl/pos-sync/internal/config"
	"github.com/jwalitptl/pos-sync/internal/service/outbound"
	webhookService "github.com/jwalitptl/pos-sync/internal/service/webhook"
	"github.com/jwalitptl/pos-sync/pkg/logger"
	"github.com/jwalitptl/pos-sync/pkg/metrics"
	"github.com/jwalitptl/pos-sync/pkg/worker"
)

func setupHealthCheck(cfg config.ServerConfig, components *app.Components, log *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if components.DB != nil {
			if err := components.DB.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Health check server failed")
		}
	}()
	return srv
}

func processorConfig(cfg *config.Config) worker.SyncProcessorConfig {
	return worker.SyncProcessorConfig{
		BatchSize:    cfg.Sync.BatchSize,
		PollInterval: cfg.Sync.PollInterval,
		MaxRetries:   cfg.Sync.MaxRetries,
		BackoffBase:  cfg.Sync.BackoffBase,
		BackoffMax:   cfg.Sync.BackoffMax,
		JobTimeout:   cfg.Sync.JobTimeout,
		StuckAfter:   cfg.Sync.StuckAfter,
		RequestRate:  cfg.Sync.RequestRate,
		RequestBurst: cfg.Sync.RequestBurst,
		Channel:      cfg.Redis.Channel,
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := app.NewLogger(cfg.Log).WithComponent("worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal(err, "Failed to initialise worker")
	}
	defer components.Close()

	m := metrics.NewMetrics("pos_sync", prometheus.DefaultRegisterer)

	registry := outbound.NewDefaultRegistry(components.Store, components.CRM, cfg.Integration.TenantTTL, log)
	processor := worker.NewSyncProcessor(
		components.Store.Queue,
		registry,
		components.Broker,
		processorConfig(cfg),
		log,
		m,
	)
	janitor := worker.NewJanitor(components.Store.Queue, cfg.Sync.CleanupAfter, cfg.Sync.CleanupInterval, log, m)
	puller := worker.NewCRMPuller(
		webhookService.NewPuller(webhookService.NewService(components.Store, nil, log), components.CRM, log),
		cfg.Sync.PullInterval,
		log,
		m,
	)

	healthSrv := setupHealthCheck(cfg.Server, components, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		janitor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		puller.Start(ctx)
	}()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Health server forced to shutdown")
	}
	log.Info("Worker exited properly")
}
