package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dandantas/stocksync/internal/service"
)

// NewPendingCommand creates the pending command group.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect adjustments awaiting confirmation",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List pending adjustments",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(ctx context.Context, svc *service.Service, out *OutputFormatter) error {
				pending := svc.ListPending()
				return out.Success(pending, func(w *tabwriter.Writer) {
					fmt.Fprintln(w, "SKU\tJOB\tDELTA\tTARGET\tCREATED\tERROR")
					for _, p := range pending {
						fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
							p.SKU, p.JobID, p.Delta, p.Target, p.CreatedAt.Format(time.RFC3339), p.Error)
					}
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "clear <sku>",
		Short:         "Release a SKU held by a failed adjustment",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(ctx context.Context, svc *service.Service, out *OutputFormatter) error {
				if err := svc.ClearPending(ctx, args[0]); err != nil {
					return out.Error(err)
				}
				return out.Success(map[string]string{"cleared": args[0]}, func(w *tabwriter.Writer) {
					fmt.Fprintf(w, "cleared %s\n", args[0])
				})
			})
		},
	})

	return cmd
}
