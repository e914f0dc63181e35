package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/pos-sync/internal/app"
	"github.com/jwalitptl/pos-sync/internal/config"
	"github.com/jwalitptl/pos-sync/internal/handler/admin"
	"github.com/jwalitptl/pos-sync/internal/handler/health"
	"github.com/jwalitptl/pos-sync/internal/handler/integration"
	"github.com/jwalitptl/pos-sync/internal/handler/webhook"
	"github.com/jwalitptl/pos-sync/internal/router"
	syncqueueService "github.com/jwalitptl/pos-sync/internal/service/syncqueue"
	webhookService "github.com/jwalitptl/pos-sync/internal/service/webhook"
	"github.com/jwalitptl/pos-sync/pkg/auth"
	"github.com/jwalitptl/pos-sync/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := app.NewLogger(cfg.Log).WithComponent("api")
	if cfg.Integration.Secret == "" {
		log.Warn("INTEGRATION_SECRET is not set; webhooks will be rejected")
	}

	components, err := app.Open(context.Background(), cfg, log)
	if err != nil {
		log.Fatal(err, "Failed to initialise api")
	}
	defer components.Close()

	m := metrics.NewMetrics("pos_sync", prometheus.DefaultRegisterer)

	// Services
	webhookSvc := webhookService.NewService(components.Store, nil, log)
	queueSvc := syncqueueService.NewService(components.Store, log)

	// Handlers
	checks := map[string]health.Pinger{}
	if components.DB != nil {
		checks["database"] = components.DB
	}
	webhookHandler := webhook.NewHandler(webhookSvc, cfg.Integration.Secret, cfg.Server.MaxBodyBytes, log, m)
	integrationHandler := integration.NewHandler(webhookSvc, queueSvc, components.CRM)
	adminHandler := admin.NewHandler(queueSvc)
	healthHandler := health.NewHandler(checks)

	gin.SetMode(gin.ReleaseMode)
	r := router.NewRouter(webhookHandler, integrationHandler, adminHandler, healthHandler, router.RouterConfig{
		RateLimitEnabled:  cfg.RateLimit.Enabled,
		RateLimit:         rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:         cfg.RateLimit.Burst,
		RequestTimeout:    cfg.Server.RequestTimeout,
		MaxBodySize:       cfg.Server.MaxBodyBytes,
		AdminToken:        cfg.Admin.Token,
		IntegrationTokens: auth.NewJWTService(cfg.Integration.Secret, cfg.Integration.InboundIssuer, 0),
	}, log, m)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited properly")
}
