package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/pos-sync/pkg/messaging"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Count int
}

// NewWatchCommand streams sync outcome events from redis.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream sync outcome events",
		Long: `Subscribe to the sync events channel and print each COMPLETED, RETRY and
FAILED notification as the worker publishes it. Requires redis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, rootOpts, func(ctx context.Context, d *Deps) error {
				if d.Broker == nil {
					return NewExitError(ExitCommandError, "redis is not configured")
				}
				return runWatch(ctx, opts, d, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many events (0 = until interrupted)")
	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, d *Deps, w io.Writer) error {
	channel := d.Channel
	if channel == "" {
		channel = messaging.SyncEventsChannel
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs, err := d.Broker.Subscribe(ctx, channel)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to subscribe", err)
	}

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			if opts.Format == "json" {
				fmt.Fprintln(w, string(raw))
			} else {
				var evt messaging.SyncEvent
				if err := json.Unmarshal(raw, &evt); err != nil {
					fmt.Fprintf(w, "unreadable event: %s\n", raw)
					continue
				}
				printEvent(w, &evt)
			}
			seen++
			if opts.Count > 0 && seen >= opts.Count {
				return nil
			}
		}
	}
}

func printEvent(w io.Writer, evt *messaging.SyncEvent) {
	line := fmt.Sprintf("%s %-9s %s/%s %s retries=%d",
		evt.OccurredAt.Format("15:04:05"), evt.Status, evt.EntityType, evt.EntityID, evt.Operation, evt.RetryCount)
	if evt.RemoteID != "" {
		line += " remote=" + evt.RemoteID
	}
	if evt.Error != "" {
		line += " error=" + evt.Error
	}
	fmt.Fprintln(w, line)
}

// NewCRMHealthCommand checks the CRM sync API.
func NewCRMHealthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "crm-health",
		Short: "Check that the CRM sync API is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, rootOpts, func(ctx context.Context, d *Deps) error {
				if d.CRM == nil {
					return NewExitError(ExitCommandError, "crm client is not configured")
				}
				result := d.CRM.Health(ctx)
				err := newFormatter(rootOpts, cmd.OutOrStdout()).Success(result, func(w io.Writer) {
					state := "DOWN"
					if result.OK {
						state = "UP"
					}
					fmt.Fprintf(w, "crm\t%s\n", result.URL)
					fmt.Fprintf(w, "state\t%s\n", state)
					if result.StatusCode != 0 {
						fmt.Fprintf(w, "status\t%d\n", result.StatusCode)
					}
					if result.Error != "" {
						fmt.Fprintf(w, "error\t%s\n", result.Error)
					}
				})
				if err != nil {
					return err
				}
				if !result.OK {
					return NewExitError(ExitFailure, "crm is unreachable")
				}
				return nil
			})
		},
	}
}
