// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package models

import (
	"time"
)

// APIResponse is the envelope of every HTTP response.
//
// Status is "success" or "error". On success Data carries the payload; on
// error Error says what went wrong. A partial batch failure is reported as
// "partial" with per-entity results in Data.
//
// Example error response:
//
//	{
//	  "status": "error",
//	  "data": null,
//	  "metadata": {"timestamp": "2026-03-01T12:00:00Z"},
//	  "error": {
//	    "code": "NOT_FOUND",
//	    "message": "unknown entity: widgets",
//	    "details": {"available": ["appointments", "calls", "..."]}
//	  }
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Response statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// Metadata is attached to every response.
type Metadata struct {
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	DurationMs    int64     `json:"duration_ms,omitempty"`
}

// APIError is the machine-readable error of a failed request.
//
// Codes:
//   - VALIDATION_ERROR: bad query parameters
//   - NOT_FOUND: unknown entity or report
//   - CONFLICT: a run of the entity is already in progress
//   - SYNC_FAILED: the run started and failed; details carry stage and run_id
//   - DATABASE_ERROR: a state table query failed
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
