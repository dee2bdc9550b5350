package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dandantas/stocksync/internal/apperr"
	"github.com/dandantas/stocksync/internal/service"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		history bool
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "audit <kind>",
		Short: "Show the latest audit record of a kind",
		Long: fmt.Sprintf(`Show the latest audit record written to the data directory, or with
--history the most recent records kept in MongoDB.

Kinds: %s`, strings.Join(service.AuditKinds(), ", ")),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			return rootOpts.withService(cmd, func(ctx context.Context, svc *service.Service, out *OutputFormatter) error {
				if !slices.Contains(service.AuditKinds(), kind) {
					return out.Error(apperr.BadInput("unknown audit kind", map[string]any{"kind": kind}))
				}
				if history {
					docs, err := svc.AuditHistory(ctx, kind, limit)
					if err != nil {
						return out.Error(err)
					}
					return out.Success(docs, func(w *tabwriter.Writer) {
						for _, d := range docs {
							fmt.Fprintf(w, "%s\t%s\n", d.RecordedAt.Format(time.RFC3339), d.Kind)
						}
					})
				}
				record, err := svc.LatestAudit(kind)
				if err != nil {
					return out.Error(err)
				}
				return out.Success(json.RawMessage(record), nil)
			})
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "list records kept in MongoDB")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum history records")

	return cmd
}
