// Package app wires configuration into the shared runtime dependencies of
// the api, worker and syncctl binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/pos-sync/internal/config"
	"github.com/jwalitptl/pos-sync/internal/repository"
	"github.com/jwalitptl/pos-sync/internal/repository/memory"
	"github.com/jwalitptl/pos-sync/internal/repository/postgres"
	"github.com/jwalitptl/pos-sync/pkg/crm"
	"github.com/jwalitptl/pos-sync/pkg/logger"
	"github.com/jwalitptl/pos-sync/pkg/messaging"
	"github.com/jwalitptl/pos-sync/pkg/messaging/redis"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Components struct {
	Config *config.Config
	Logger *logger.Logger
	Store  *repository.Store
	// DB is nil with the memory driver.
	DB *sqlx.DB
	// Broker is nil when redis is not configured.
	Broker messaging.Broker
	CRM    *crm.Client

	closers []func() error
}

// NewLogger builds the process logger from config.
func NewLogger(cfg config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    cfg.Console,
	})
}

// Open connects the store, the optional broker and the CRM client.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Components, error) {
	c := &Components{Config: cfg, Logger: log}

	switch cfg.Database.Driver {
	case DriverMemory:
		log.Warn("Using in-memory store; data is lost on exit")
		c.Store = memory.NewStore(memory.NewDB())
	case DriverPostgres, "":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.DB = db
		c.Store = postgres.NewStore(db)
		c.closers = append(c.closers, db.Close)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	if cfg.Redis.Enabled() {
		broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), log)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Broker = broker
		c.closers = append(c.closers, broker.Close)
	}

	client, err := crm.NewClient(crm.Config{
		BaseURL: cfg.Integration.CRMBaseURL,
		Secret:  cfg.Integration.Secret,
		Issuer:  cfg.Integration.Issuer,
		Timeout: cfg.Integration.Timeout,
	}, log)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.CRM = client

	return c, nil
}

// Close releases connections in reverse order of opening.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
