// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

/*
Package api provides the HTTP routing layer over the ingest orchestrator.

Endpoints:

	GET  /health                       database ping, uptime
	GET  /metrics                      Prometheus exposition
	GET  /entities                     registered entities and reports
	GET  /ref-entities                 reference dimensions
	GET  /ingest/{entity}?mode=        sync one entity (default incremental)
	GET  /ingest-all?mode=&parallel=   sync every entity; 207 when some fail
	GET  /ingest-ref/{entity}          refresh one reference dimension
	GET  /ingest-ref-all?parallel=     refresh every reference dimension
	GET  /ingest-report/{report}?mode= load a report date range
	POST /full-sync/{entity}           full-mode sync
	GET  /status/{entity}              last 10 run logs
	GET  /last-sync/{entity}           current watermark
	POST /backfill-async               202, detached full backfill
	POST /compact/{entity}             deduplicate a table by primary key

Every response is a models.APIResponse envelope. A run that started and
failed answers 500 with code SYNC_FAILED and the failing stage and run id in
the error details; the run log row is already written by then.

Middleware stack (global, in order): request and correlation ids, real IP,
panic recovery, CORS, Prometheus metrics, gzip. Sync and backfill routes add
an IP rate limit (httprate).
*/
package api
