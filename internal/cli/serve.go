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

	"github.com/equigive/taskflow/internal/config"
	"github.com/equigive/taskflow/internal/engine"
	"github.com/equigive/taskflow/internal/esign"
	"github.com/equigive/taskflow/internal/httpapi"
	"github.com/equigive/taskflow/internal/workflow"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and webhook listener",
		Long: `Start the taskflow HTTP server.

Serves the workflow and task endpoints plus the e-signature provider
webhook. The SQLite database is created if it does not exist.

Example:
  taskflow serve --config taskflow.yaml
  taskflow serve --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log := newLogger(cfg, opts.Verbose)
	slog.SetDefault(log)

	tmpl, err := resolveTemplate(cfg, "")
	if err != nil {
		return err
	}

	log.Info("opening database", "path", cfg.Database.Path)
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	svc := workflow.NewService(tmpl, st, workflow.WithLogger(log))
	eng := engine.New(st, engine.WithLogger(log))

	adapterOpts := []esign.AdapterOption{
		esign.WithAdapterLogger(log),
		esign.WithRetryConfig(esign.RetryConfig{
			MaxAttempts:       cfg.ESign.MaxAttempts,
			BackoffBase:       cfg.ESign.BackoffBase,
			BackoffMultiplier: cfg.ESign.BackoffMultiplier,
		}),
	}
	if cfg.ESign.BaseURL != "" {
		adapterOpts = append(adapterOpts, esign.WithDocumentStore(
			esign.NewProviderClient(cfg.ESign.BaseURL, cfg.ESign.Token),
			esign.NewFileArtifactStore(cfg.ESign.ArtifactDir),
		))
	}
	resolver := esign.NewResolver(st)
	resolver.ScanLimit = cfg.ESign.ScanLimit
	adapter := esign.NewAdapter(resolver, st, eng, adapterOpts...)

	server := httpapi.NewServer(svc, eng, st, adapter, httpapi.WithLogger(log))

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTP.Listen, "template", tmpl.Name)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return WrapExitError(ExitCommandError, "shutdown failed", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return WrapExitError(ExitCommandError, "http server failed", err)
	}
}

// newLogger builds the process logger from config, with --verbose forcing
// debug level.
func newLogger(cfg *config.Config, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
