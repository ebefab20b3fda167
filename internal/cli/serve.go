// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/tributary/internal/api"
	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/supervisor"
	"github.com/tomtom215/tributary/internal/supervisor/services"
)

func newServeCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the scheduler and compactor",
		Long: `Serve the HTTP API under a supervisor tree. When enabled in the sync
config, a scheduler runs incremental syncs on an interval and a compactor
repairs tables that took fallback appends. SIGINT or SIGTERM shuts down
gracefully.`,
		Args: cobra.NoArgs,
		RunE: s.withApp(func(cmd *cobra.Command, args []string, app *App) error {
			return Serve(cmd.Context(), app)
		}),
	}
}

// Serve runs the server process until ctx is canceled.
func Serve(ctx context.Context, app *App) error {
	cfg := app.Config

	mw := api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(&cfg.Server))
	handler := api.NewHandler(app.Orchestrator, app.DB, Version)
	router := api.NewRouter(handler, mw)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))
	if cfg.Sync.ScheduleEnabled {
		tree.AddIngestService(services.NewSchedulerService(app.Orchestrator, cfg.Sync))
		logging.Info().
			Dur("interval", cfg.Sync.ScheduleInterval).
			Strs("entities", cfg.Sync.ScheduleEntities).
			Msg("Scheduled sync enabled")
	}
	if cfg.Sync.CompactionEnabled {
		tree.AddIngestService(services.NewCompactorService(app.Orchestrator, cfg.Sync.CompactionInterval))
	}

	logging.Info().
		Str("addr", srv.Addr).
		Str("version", Version).
		Str("warehouse", cfg.Warehouse.Path).
		Msg("Starting Tributary")

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}

	logging.Info().Msg("Shutdown complete")
	return nil
}
