package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/service"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and feed the Web Connector job queue",
	}

	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueEnqueueQueryCommand(rootOpts))
	cmd.AddCommand(newQueueEnqueueRawCommand(rootOpts))
	cmd.AddCommand(newQueueClearCurrentCommand(rootOpts))

	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "Show queued jobs and the in-flight slot",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(ctx context.Context, svc *service.Service, out *OutputFormatter) error {
				status, err := svc.QueueStatus(ctx)
				if err != nil {
					return out.Error(err)
				}
				return out.Success(status, func(w *tabwriter.Writer) {
					if status.Current != nil {
						fmt.Fprintf(w, "CURRENT\t%s\t%s\tdispatched %s\n",
							status.Current.Job.ID, status.Current.Job.Type,
							status.Current.DispatchedAt.Format(time.RFC3339))
					}
					fmt.Fprintln(w, "ID\tTYPE\tSOURCE\tCREATED\tSKUS")
					for _, job := range status.Jobs {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
							job.ID, job.Type, job.Source,
							job.CreatedAt.Format(time.RFC3339), strings.Join(job.SKUs, ","))
					}
					fmt.Fprintf(w, "%d job(s) queued\n", status.Depth)
				})
			})
		},
	}
}

func newQueueEnqueueQueryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		req          service.QueryRequest
		fromModified string
		toModified   string
	)

	cmd := &cobra.Command{
		Use:   "enqueue-query",
		Short: "Queue an item inventory query",
		Long: `Queue an ItemInventoryQueryRq for the next Web Connector session.

Example:
  stocksync queue enqueue-query --max 500
  stocksync queue enqueue-query --from-modified 2024-06-01T00:00:00Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if req.FromModified, err = parseTimeFlag("from-modified", fromModified); err != nil {
				return err
			}
			if req.ToModified, err = parseTimeFlag("to-modified", toModified); err != nil {
				return err
			}
			return rootOpts.withService(cmd, func(ctx context.Context, svc *service.Service, out *OutputFormatter) error {
				result, err := svc.EnqueueInventoryQuery(ctx, model.SourceCLI, req)
				if err != nil {
					return out.Error(err)
				}
				return out.Success(result, enqueuedTable(result))
			})
		},
	}

	cmd.Flags().IntVar(&req.MaxReturned, "max", 0, "maximum items returned (0 uses MAX_ITEMS_PER_QUERY)")
	cmd.Flags().StringVar(&req.ActiveStatus, "active-status", "", "ActiveOnly, InactiveOnly or All")
	cmd.Flags().StringVar(&fromModified, "from-modified", "", "RFC3339 lower bound on modification time")
	cmd.Flags().StringVar(&toModified, "to-modified", "", "RFC3339 upper bound on modification time")

	return cmd
}

func newQueueEnqueueRawCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue-raw <file|->",
		Short: "Queue a raw qbXML request document",
		Long: `Queue a qbXML document read from a file, or from stdin with "-".
The document is validated before it is queued.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readInput(cmd, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read request", err)
			}
			return rootOpts.withService(cmd, func(ctx context.Context, svc *service.Service, out *OutputFormatter) error {
				result, err := svc.EnqueueRaw(ctx, model.SourceCLI, string(doc))
				if err != nil {
					return out.Error(err)
				}
				return out.Success(result, enqueuedTable(result))
			})
		},
	}
}

func newQueueClearCurrentCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear-current",
		Short:         "Drop the in-flight job",
		Long:          "Drop the in-flight job. A dropped adjustment marks its pending entries failed.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(ctx context.Context, svc *service.Service, out *OutputFormatter) error {
				cleared, err := svc.ClearCurrent(ctx)
				if err != nil {
					return out.Error(err)
				}
				return out.Success(cleared, func(w *tabwriter.Writer) {
					fmt.Fprintf(w, "cleared %s (%s)\n", cleared.Job.ID, cleared.Job.Type)
				})
			})
		},
	}
}

func enqueuedTable(result *service.EnqueueResult) func(w *tabwriter.Writer) {
	return func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "queued %s (%s), depth %d\n", result.Job.ID, result.Job.Type, result.Depth)
	}
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --"+name, err)
	}
	return &t, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
