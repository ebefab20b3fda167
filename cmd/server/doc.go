// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

/*
Package main is the entry point for the Tributary server.

The server exposes the ingestion pipeline over HTTP and, when enabled, runs
scheduled incremental syncs and dirty-table compaction in the background. It
is equivalent to running "tributary serve"; any extra arguments are passed to
that command (for example --config or --log-level).

# Application Architecture

Components run under a Suture v4 supervisor tree:

	RootSupervisor ("tributary")
	├── IngestSupervisor ("ingest-layer")
	│   ├── Scheduler (sync.schedule_enabled)
	│   └── Compactor (sync.compaction_enabled)
	└── APISupervisor ("api-layer")
	    └── HTTP Server (chi router)

Component initialization order:

 1. Configuration: Koanf v2 with defaults, config file and environment
 2. Logging: zerolog with JSON/console output modes
 3. Credentials: OAuth2 client-credentials cache with a safety margin
 4. Resilience: shared rate limiter, circuit breakers and retry policy
 5. Warehouse: DuckDB with the pipeline state tables
 6. Orchestrator: entity, reference and report runs
 7. Supervisor Tree: HTTP server, scheduler and compactor

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest priority wins):

	Priority: Environment variables > Config file > Defaults

Core environment variables:

	# Upstream API
	ST_TENANT_ID=<tenant>
	ST_CLIENT_ID=<client id>
	ST_CLIENT_SECRET=<secret>
	ST_APP_KEY=<app key>

	# Warehouse
	DUCKDB_PATH=/data/tributary.duckdb
	DUCKDB_MAX_MEMORY=2GB

	# Server
	HTTP_PORT=8080
	LOG_LEVEL=info               # trace, debug, info, warn, error
	LOG_FORMAT=json              # json or console

	# Background services
	SCHEDULE_ENABLED=true
	SCHEDULE_INTERVAL=1h
	COMPACTION_ENABLED=true

The config file path defaults to ./config.yaml and can be set with
CONFIG_PATH or --config.

# Graceful Shutdown

SIGINT and SIGTERM cancel the root context. The supervisor stops the HTTP
server within server.shutdown_timeout, in-flight runs are canceled, and the
warehouse is closed last.
*/
package main
