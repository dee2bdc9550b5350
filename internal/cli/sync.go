package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/service"
)

// NewSyncCommand creates the sync command group.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run inventory reconciliation once",
	}

	outbound := &cobra.Command{
		Use:   "outbound",
		Short: "Accounting snapshot to commerce platform",
	}
	outbound.AddCommand(newOutboundPlanCommand(rootOpts))
	outbound.AddCommand(newOutboundApplyCommand(rootOpts))

	cmd.AddCommand(outbound)
	cmd.AddCommand(newInboundCommand(rootOpts))

	return cmd
}

func newOutboundPlanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "plan",
		Short:         "Compute the outbound plan without writing",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(ctx context.Context, svc *service.Service, out *OutputFormatter) error {
				plan, err := svc.PlanOutbound(ctx)
				if err != nil {
					return out.Error(err)
				}
				return out.Success(plan, func(w *tabwriter.Writer) {
					writeOutboundPlan(w, plan)
				})
			})
		},
	}
}

func newOutboundApplyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "apply",
		Short:         "Compute and apply the outbound plan",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(ctx context.Context, svc *service.Service, out *OutputFormatter) error {
				applied, err := svc.ApplyOutbound(ctx, false)
				if err != nil {
					return out.Error(err)
				}
				result := applied.Result
				if err := out.Success(result, func(w *tabwriter.Writer) {
					fmt.Fprintln(w, "SKU\tTARGET\tRESULT")
					for _, o := range result.Outcomes {
						status := "ok"
						if !o.Success {
							status = "failed: " + o.Error
						}
						fmt.Fprintf(w, "%s\t%d\t%s\n", o.SKU, o.Target, status)
					}
					fmt.Fprintf(w, "%d succeeded, %d failed\n", result.Succeeded, result.Failed)
				}); err != nil {
					return err
				}
				if result.Failed > 0 || result.Error != "" {
					return NewExitError(ExitFailure, fmt.Sprintf("%d update(s) failed", result.Failed))
				}
				return nil
			})
		},
	}
}

func newInboundCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "inbound",
		Short: "Commerce platform changes to an accounting adjustment",
		Long: `Scan inventory levels changed on the commerce platform since the last
cursor and queue one InventoryAdjustmentAddRq for the differences.

Example:
  stocksync sync inbound --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(ctx context.Context, svc *service.Service, out *OutputFormatter) error {
				plan, err := svc.RunInbound(ctx, dryRun)
				if err != nil {
					return out.Error(err)
				}
				return out.Success(plan, func(w *tabwriter.Writer) {
					writeInboundPlan(w, plan)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the plan without queueing or moving the cursor")

	return cmd
}

func writeOutboundPlan(w *tabwriter.Writer, plan *model.OutboundPlan) {
	fmt.Fprintln(w, "SKU\tCURRENT\tTARGET\tDELTA\tACTION")
	for _, e := range plan.Entries {
		current := "-"
		if e.Current != nil {
			current = fmt.Sprint(*e.Current)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", e.SKU, current, e.Target, e.Delta, e.Action)
	}
	writeSkipped(w, "unmatched", plan.Unmatched)
	writeSkipped(w, "skipped", plan.Skipped)
	fmt.Fprintf(w, "%d change(s) at location %s\n", plan.Changes(), plan.LocationID)
}

func writeInboundPlan(w *tabwriter.Writer, plan *model.InboundPlan) {
	fmt.Fprintln(w, "SKU\tAVAILABLE\tACCOUNTING\tDELTA")
	for _, c := range plan.Changes {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", c.SKU, c.Available, c.AccountingQty, c.Delta)
	}
	writeSkipped(w, "skipped", plan.Skipped)
	switch {
	case plan.JobID != "":
		fmt.Fprintf(w, "queued adjustment %s with %d line(s)\n", plan.JobID, len(plan.Lines))
	case plan.DryRun:
		fmt.Fprintf(w, "dry run: %d line(s) would be queued\n", len(plan.Lines))
	default:
		fmt.Fprintln(w, "nothing to adjust")
	}
}

func writeSkipped(w *tabwriter.Writer, label string, items []model.SkippedItem) {
	for _, s := range items {
		name := s.SKU
		if name == "" {
			name = s.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", label, name, s.Reason, s.Detail)
	}
}
