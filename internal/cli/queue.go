package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/pos-sync/internal/model"
	"github.com/jwalitptl/pos-sync/internal/service/syncqueue"
)

// QueueOptions holds the business filter shared by the queue commands.
type QueueOptions struct {
	*RootOptions
	BusinessID string
}

func (o *QueueOptions) business() (*uuid.UUID, error) {
	if o.BusinessID == "" {
		return nil, nil
	}
	id, err := uuid.Parse(o.BusinessID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --business", err)
	}
	return &id, nil
}

func addBusinessFlag(cmd *cobra.Command, opts *QueueOptions) {
	cmd.Flags().StringVar(&opts.BusinessID, "business", "", "restrict to one business id")
}

// NewStatsCommand prints queue counts per status.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show sync queue counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			businessID, err := opts.business()
			if err != nil {
				return err
			}
			return withDeps(cmd, rootOpts, func(ctx context.Context, d *Deps) error {
				stats, err := d.Queue.Stats(ctx, businessID)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read queue stats", err)
				}
				return newFormatter(rootOpts, cmd.OutOrStdout()).Success(stats, func(w io.Writer) {
					fmt.Fprintln(w, "STATUS\tCOUNT")
					fmt.Fprintf(w, "PENDING\t%d\n", stats.Pending)
					fmt.Fprintf(w, "PROCESSING\t%d\n", stats.Processing)
					fmt.Fprintf(w, "RETRY\t%d\n", stats.Retry)
					fmt.Fprintf(w, "FAILED\t%d\n", stats.Failed)
					fmt.Fprintf(w, "COMPLETED\t%d\n", stats.Completed)
					fmt.Fprintf(w, "TOTAL\t%d\n", stats.Total)
				})
			})
		},
	}
	addBusinessFlag(cmd, opts)
	return cmd
}

// FailedOptions holds flags for the failed command.
type FailedOptions struct {
	QueueOptions
	Limit int
}

// NewFailedCommand lists FAILED rows with their last error.
func NewFailedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FailedOptions{QueueOptions: QueueOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List failed sync jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			businessID, err := opts.business()
			if err != nil {
				return err
			}
			return withDeps(cmd, rootOpts, func(ctx context.Context, d *Deps) error {
				entries, err := d.Queue.ListFailed(ctx, businessID, opts.Limit)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list failed jobs", err)
				}
				return newFormatter(rootOpts, cmd.OutOrStdout()).Success(entries, func(w io.Writer) {
					fmt.Fprintln(w, "ID\tENTITY\tOPERATION\tRETRIES\tUPDATED\tERROR")
					for _, e := range entries {
						fmt.Fprintf(w, "%s\t%s/%s\t%s\t%d\t%s\t%s\n",
							e.ID, e.EntityType, e.EntityID, e.Operation, e.RetryCount,
							e.UpdatedAt.Format(time.RFC3339), deref(e.ErrorMessage))
					}
				})
			})
		},
	}
	addBusinessFlag(cmd, &opts.QueueOptions)
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum rows to show")
	return cmd
}

// NewRetryCommand moves FAILED rows back to PENDING.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "retry [id...]",
		Short: "Requeue failed sync jobs (all of them when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			businessID, err := opts.business()
			if err != nil {
				return err
			}
			ids := make([]uuid.UUID, 0, len(args))
			for _, raw := range args {
				id, err := uuid.Parse(raw)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid id "+raw, err)
				}
				ids = append(ids, id)
			}
			return withDeps(cmd, rootOpts, func(ctx context.Context, d *Deps) error {
				n, err := d.Queue.RetryFailed(ctx, businessID, ids)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to requeue jobs", err)
				}
				return newFormatter(rootOpts, cmd.OutOrStdout()).Success(map[string]int64{"requeued": n}, func(w io.Writer) {
					fmt.Fprintf(w, "requeued %d job(s)\n", n)
				})
			})
		},
	}
	addBusinessFlag(cmd, opts)
	return cmd
}

// NewReconcileCommand queues every unsynced customer of a business.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Queue unsynced customers for sync",
		Long: `Queue a HIGH priority CREATE for every active non-anonymous customer with no
CRM id or is not marked SYNCED. Customers with a live job are skipped.

Without --business the first business is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			businessID, err := opts.business()
			if err != nil {
				return err
			}
			return withDeps(cmd, rootOpts, func(ctx context.Context, d *Deps) error {
				result, err := d.Queue.ReconcileDefault(ctx, businessID)
				if err != nil {
					return WrapExitError(ExitFailure, "reconcile failed", err)
				}
				return newFormatter(rootOpts, cmd.OutOrStdout()).Success(result, func(w io.Writer) {
					printReconcile(w, result)
				})
			})
		},
	}
	addBusinessFlag(cmd, opts)
	return cmd
}

func printReconcile(w io.Writer, r *syncqueue.ReconcileResult) {
	fmt.Fprintf(w, "business\t%s\n", r.BusinessID)
	fmt.Fprintf(w, "unsynced\t%d\n", r.Total)
	fmt.Fprintf(w, "queued\t%d\n", r.Added)
	fmt.Fprintf(w, "already queued\t%d\n", r.Skipped)
	fmt.Fprintf(w, "failed\t%d\n", r.Failed)
	for _, c := range r.Customers {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", c.ID, c.Name, c.Email)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\terror\t%s\n", e.ID, e.Error)
	}
}

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	EntityType string
	Operation  string
}

// NewEnqueueCommand queues one customer or transaction by id.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <entity-id>",
		Short: "Queue one entity for sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, err := uuid.Parse(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid entity id", err)
			}
			op := model.Operation(opts.Operation)
			if !op.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --op %q", opts.Operation))
			}
			return withDeps(cmd, rootOpts, func(ctx context.Context, d *Deps) error {
				entry, err := enqueueEntity(ctx, d, model.EntityType(opts.EntityType), entityID, op)
				if err != nil {
					return err
				}
				if entry == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "anonymous customer, nothing to sync")
					return nil
				}
				return newFormatter(rootOpts, cmd.OutOrStdout()).Success(entry, func(w io.Writer) {
					fmt.Fprintf(w, "queue entry\t%s\n", entry.ID)
					fmt.Fprintf(w, "status\t%s\n", entry.Status)
					fmt.Fprintf(w, "priority\t%s\n", entry.Priority)
				})
			})
		},
	}
	cmd.Flags().StringVar(&opts.EntityType, "type", string(model.EntityCustomer), "entity type (CUSTOMER|TRANSACTION)")
	cmd.Flags().StringVar(&opts.Operation, "op", string(model.OperationUpdate), "operation (CREATE|UPDATE|DELETE)")
	return cmd
}

// enqueueEntity loads the entity so the job carries a real snapshot.
func enqueueEntity(ctx context.Context, d *Deps, entityType model.EntityType, id uuid.UUID, op model.Operation) (*model.SyncQueueEntry, error) {
	var (
		entry *model.SyncQueueEntry
		err   error
	)
	switch entityType {
	case model.EntityCustomer:
		c, loadErr := d.Store.Customers.Get(ctx, id)
		if loadErr != nil {
			return nil, WrapExitError(ExitFailure, "failed to load customer", loadErr)
		}
		entry, err = d.Queue.EnqueueCustomer(ctx, c, op)
	case model.EntityTransaction:
		txn, loadErr := d.Store.Transactions.Get(ctx, id)
		if loadErr != nil {
			return nil, WrapExitError(ExitFailure, "failed to load transaction", loadErr)
		}
		entry, err = d.Queue.EnqueueTransaction(ctx, txn, op)
	default:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unsupported --type %q", entityType))
	}
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to enqueue", err)
	}
	return entry, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CleanupOptions holds flags for the cleanup command.
type CleanupOptions struct {
	*RootOptions
	OlderThan  time.Duration
	ResetStuck time.Duration
}

// NewCleanupCommand removes old COMPLETED rows and optionally resets stuck ones.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CleanupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old completed jobs and recover stuck ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, rootOpts, func(ctx context.Context, d *Deps) error {
				deleted, err := d.Queue.Cleanup(ctx, opts.OlderThan)
				if err != nil {
					return WrapExitError(ExitFailure, "cleanup failed", err)
				}
				var reset int64
				if opts.ResetStuck > 0 {
					reset, err = d.Queue.ResetStuck(ctx, opts.ResetStuck)
					if err != nil {
						return WrapExitError(ExitFailure, "reset stuck failed", err)
					}
				}
				out := map[string]int64{"deleted": deleted, "reset": reset}
				return newFormatter(rootOpts, cmd.OutOrStdout()).Success(out, func(w io.Writer) {
					fmt.Fprintf(w, "deleted\t%d\n", deleted)
					fmt.Fprintf(w, "reset\t%d\n", reset)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 7*24*time.Hour, "delete COMPLETED rows processed before this age")
	cmd.Flags().DurationVar(&opts.ResetStuck, "reset-stuck", 0, "also return PROCESSING rows idle this long to RETRY")
	return cmd
}
