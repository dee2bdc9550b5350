// Package cli implements the stocksync command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/dandantas/stocksync/internal/config"
	"github.com/dandantas/stocksync/internal/service"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	DataDir string
	Version string

	// NewService builds the service for one-shot commands. Tests replace it.
	NewService func(ctx context.Context, cfg *config.Config) (*service.Service, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{
		Version: version,
		NewService: func(ctx context.Context, cfg *config.Config) (*service.Service, error) {
			return service.New(ctx, cfg)
		},
	}

	cmd := &cobra.Command{
		Use:     "stocksync",
		Short:   "Inventory sync between QuickBooks Desktop and a commerce platform",
		Version: version,
		Long: `stocksync serves the QuickBooks Web Connector session protocol, keeps the
durable job queue it drains, and reconciles inventory in both directions with
the commerce platform.

Configuration comes from the environment (see DATA_DIR, QBWC_*, COMMERCE_*).`,

		// main prints the error once
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "state directory (overrides DATA_DIR)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewQWCCommand(opts))

	return cmd
}

// loadConfig reads the environment and applies the global flag overrides.
func (o *RootOptions) loadConfig() *config.Config {
	cfg := config.Load()
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg
}

// openService builds a service for a one-shot command. Logs go to stderr so
// stdout stays parseable. Nothing background is started.
func (o *RootOptions) openService(cmd *cobra.Command) (*service.Service, error) {
	cfg := o.loadConfig()
	cfg.LogFormat = "text"
	slog.SetDefault(config.NewLogger(cfg, cmd.ErrOrStderr()))

	svc, err := o.NewService(cmd.Context(), cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open state", err)
	}
	return svc, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// withService runs fn against a freshly opened service and closes it after.
func (o *RootOptions) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service, out *OutputFormatter) error) error {
	svc, err := o.openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close(context.WithoutCancel(cmd.Context()))
	return fn(cmd.Context(), svc, o.formatter(cmd))
}
