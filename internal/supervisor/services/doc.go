// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

/*
Package services provides suture.Service wrappers for the server's
long-running components.

Each wrapper implements suture.Service and fmt.Stringer:

  - HTTPServerService: ListenAndServe with graceful Shutdown on cancel
  - SchedulerService: incremental sync of all (or the configured) entities
    every sync.schedule_interval, one entity at a time
  - CompactorService: CompactDirty every sync.compaction_interval

The scheduler and compactor never return an error for a failed run; a
failure is already recorded in ingestion_logs and the next tick retries.
They only return when their context is canceled.
*/
package services
