// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

/*
Package models defines the JSON shapes of the HTTP API.

Every endpoint answers with an APIResponse envelope. Run results and run
logs are serialized from the ingest and database types directly; this
package only adds the shapes those packages have no reason to own:

  - HealthStatus: GET /health
  - EntityList, EntityInfo: GET /entities, GET /ref-entities
  - SyncSummary: GET /ingest-all, GET /ingest-ref-all
  - BackfillAccepted: POST /backfill-async
  - LastSync: GET /last-sync/{entity}
  - RunHistory: GET /status/{entity}
*/
package models
