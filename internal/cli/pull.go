package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	webhookService "github.com/jwalitptl/pos-sync/internal/service/webhook"
)

// NewPullCommand runs the CRM customer pull once.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull loyalty state from the CRM into local customers",
		Long: `Fetch the CRM customer list and merge loyalty and marketing fields into the
matching local customers. Customers are matched by CRM id, then email, then
phone. Unmatched CRM customers are counted and left alone.

Without --business every business with a CRM tenant is pulled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			businessID, err := opts.business()
			if err != nil {
				return err
			}
			return withDeps(cmd, rootOpts, func(ctx context.Context, d *Deps) error {
				if d.Puller == nil {
					return NewExitError(ExitCommandError, "crm client is not configured")
				}

				var results []*webhookService.PullResult
				if businessID != nil {
					res, err := d.Puller.Pull(ctx, *businessID)
					if err != nil {
						return WrapExitError(ExitFailure, "pull failed", err)
					}
					results = append(results, res)
				} else {
					results, err = d.Puller.PullAll(ctx)
					if err != nil {
						return WrapExitError(ExitFailure, "pull failed", err)
					}
				}

				return newFormatter(rootOpts, cmd.OutOrStdout()).Success(results, func(w io.Writer) {
					for _, r := range results {
						printPull(w, r)
					}
				})
			})
		},
	}
	addBusinessFlag(cmd, opts)
	return cmd
}

func printPull(w io.Writer, r *webhookService.PullResult) {
	fmt.Fprintf(w, "business\t%s\n", r.BusinessID)
	fmt.Fprintf(w, "tenant\t%s\n", r.TenantID)
	fmt.Fprintf(w, "fetched\t%d\n", r.Fetched)
	fmt.Fprintf(w, "updated\t%d\n", r.Updated)
	fmt.Fprintf(w, "unmatched\t%d\n", r.Unmatched)
	fmt.Fprintf(w, "failed\t%d\n", r.Failed)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\terror\t%s\n", e.CRMID, e.Error)
	}
}
