package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dandantas/stocksync/internal/config"
	"github.com/dandantas/stocksync/internal/handler"
	"github.com/dandantas/stocksync/internal/service"
	"github.com/dandantas/stocksync/pkg/middleware"
)

const shutdownTimeout = 30 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Web Connector endpoint, API and background sync",
		Long: `Start the HTTP server: the SOAP endpoint on /qbwc, the JSON API under
/api/v1, probes and /metrics. The inbound timer and outbound workers run
until SIGINT or SIGTERM.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.loadConfig()
			if port != "" {
				cfg.HTTPPort = port
			}
			return runServe(cmd.Context(), rootOpts, cfg)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "HTTP port (overrides HTTP_PORT)")

	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, cfg *config.Config) error {
	config.InitLogger(cfg)
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	slog.Info("Starting stocksync", "version", opts.Version)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build service", err)
	}
	if err := svc.Start(ctx); err != nil {
		svc.Close(context.WithoutCancel(ctx))
		return WrapExitError(ExitCommandError, "failed to start service", err)
	}

	router := handler.NewRouter(svc, opts.Version, middleware.CORSConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal, initiating graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			slog.Error("HTTP server error", "error", err)
			runErr = WrapExitError(ExitFailure, "http server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// Stop accepting sessions before the queue and workers go away
	slog.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	svc.Stop(shutdownCtx)

	slog.Info("stocksync stopped")
	return runErr
}
