package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docutag/curator"
	"github.com/docutag/curator/api"
	"github.com/docutag/curator/config"
	"github.com/docutag/curator/insights"
	"github.com/docutag/curator/metrics"
	"github.com/docutag/curator/tracing"
)

const dbStatsInterval = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the stale item reclaimer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireServe(); err != nil {
				return err
			}
			if err := setupLogging(cmd.OutOrStdout(), cfg, true); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(runCtx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()
	logger.Info("curator service initializing", "addr", cfg.Server.Addr, "model", cfg.Model.Name)

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "curator",
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
	}

	database, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer database.Close()

	files, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	bus, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	model := newModelClient(cfg)
	p := newPipeline(cfg, database, files, model, bus)

	server, err := api.NewServer(api.Config{
		Addr:           cfg.Server.Addr,
		CORSOrigins:    cfg.Server.CORSOrigins,
		JWTSecret:      cfg.Server.JWTSecret,
		ServiceKey:     cfg.Store.ServiceKey,
		ProcessTimeout: cfg.ProcessTimeout(),
		MaxUploadBytes: cfg.Pipeline.MaxUploadBytes,
	}, api.Dependencies{
		Store:      database,
		Processor:  p.orchestrator,
		Thumbnails: p.thumbnails,
		Insights:   insights.New(database, model),
		Bus:        bus,
		Storage:    files,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	dbMetrics := metrics.NewDatabaseMetrics("curator", nil)
	go func() {
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dbMetrics.UpdateDBStats(database.DB())
			}
		}
	}()

	go curator.RunReclaimer(ctx, database, bus, cfg.StaleAfter(), cfg.ReclaimInterval())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
