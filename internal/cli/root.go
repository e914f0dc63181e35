// Package cli implements the syncctl operator commands.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/pos-sync/internal/repository"
	"github.com/jwalitptl/pos-sync/internal/service/syncqueue"
	webhookService "github.com/jwalitptl/pos-sync/internal/service/webhook"
	"github.com/jwalitptl/pos-sync/pkg/crm"
	"github.com/jwalitptl/pos-sync/pkg/messaging"
)

// HealthChecker reports CRM reachability. Satisfied by *crm.Client.
type HealthChecker interface {
	Health(ctx context.Context) *crm.HealthResult
}

// Deps are the runtime dependencies a command needs. Broker, CRM and Puller
// may be nil when not configured.
type Deps struct {
	Store  *repository.Store
	Queue  syncqueue.SyncQueueServicer
	Broker messaging.Broker
	CRM    HealthChecker
	Puller webhookService.PullServicer

	// Channel carries sync outcome events for watch.
	Channel string
	Close   func() error
}

// Opener builds Deps once a command actually runs, so --help never dials a
// database.
type Opener func(ctx context.Context) (*Deps, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Open   Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for syncctl.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{Open: open}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Operate the POS to CRM sync queue",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewFailedCommand(opts))
	cmd.AddCommand(NewRetryCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewCRMHealthCommand(opts))
	cmd.AddCommand(NewPullCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// withDeps opens the dependencies, runs fn and closes them.
func withDeps(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, d *Deps) error) error {
	if opts.Open == nil {
		return NewExitError(ExitCommandError, "no dependencies configured")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := opts.Open(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialise", err)
	}
	if d.Close != nil {
		defer d.Close()
	}
	return fn(ctx, d)
}
