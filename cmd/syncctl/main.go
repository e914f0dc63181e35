package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jwalitptl/pos-sync/internal/app"
	"github.com/jwalitptl/pos-sync/internal/cli"
	"github.com/jwalitptl/pos-sync/internal/config"
	"github.com/jwalitptl/pos-sync/internal/service/syncqueue"
	webhookService "github.com/jwalitptl/pos-sync/internal/service/webhook"
)

func open(ctx context.Context) (*cli.Deps, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	// Operator output goes to stdout; keep logs to warnings.
	cfg.Log.Level = "warn"
	cfg.Log.Console = true
	log := app.NewLogger(cfg.Log)

	components, err := app.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	return &cli.Deps{
		Store:   components.Store,
		Queue:   syncqueue.NewService(components.Store, log),
		Broker:  components.Broker,
		CRM:     components.CRM,
		Puller:  webhookService.NewPuller(webhookService.NewService(components.Store, nil, log), components.CRM, log),
		Channel: cfg.Redis.Channel,
		Close:   components.Close,
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(open).ExecuteContext(ctx); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
