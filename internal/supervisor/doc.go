// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

/*
Package supervisor provides process supervision for the server using suture v4.

# Overview

	RootSupervisor ("tributary")
	├── IngestSupervisor ("ingest-layer")
	│   ├── SchedulerService (if sync.schedule_enabled)
	│   └── CompactorService (if sync.compaction_enabled)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A crashed service is restarted with suture's backoff. Failures are counted
per layer, so a scheduler that keeps failing against an unavailable upstream
backs off without restarting the HTTP server.

Supervisor events are logged through sutureslog into the zerolog-backed slog
logger from logging.NewSlogLogger.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
	    ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))
	tree.AddIngestService(services.NewSchedulerService(orch, cfg.Sync))
	err = tree.Serve(ctx)

See package services for the service wrappers.
*/
package supervisor
