// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tributary/internal/ingest"
)

// syncRequest holds the query parameters of the run endpoints.
type syncRequest struct {
	Name     string `validate:"required,entityname"`
	Mode     string `validate:"required,syncmode"`
	Parallel string `validate:"omitempty,oneof=true false"`
}

func parseSyncRequest(r *http.Request, param string) syncRequest {
	req := syncRequest{
		Mode:     getStringParam(r, "mode", ingest.ModeIncremental),
		Parallel: r.URL.Query().Get("parallel"),
	}
	if param != "" {
		req.Name = chi.URLParam(r, param)
	} else {
		// Batch endpoints have no name; satisfy the rule with a placeholder.
		req.Name = "all"
	}
	return req
}

func (s syncRequest) parallel() bool { return s.Parallel == "true" }

// reportRequest adds an optional explicit date range to a report run.
type reportRequest struct {
	syncRequest
	From string `validate:"omitempty,datetime=2006-01-02"`
	To   string `validate:"omitempty,datetime=2006-01-02"`
}

func parseReportRequest(r *http.Request) reportRequest {
	return reportRequest{
		syncRequest: parseSyncRequest(r, "report"),
		From:        r.URL.Query().Get("from"),
		To:          r.URL.Query().Get("to"),
	}
}

// reportRange converts the validated dates. Call only after validation.
func (q reportRequest) reportRange() ingest.ReportRange {
	var rng ingest.ReportRange
	if q.From != "" {
		rng.From, _ = time.Parse(time.DateOnly, q.From)
	}
	if q.To != "" {
		rng.To, _ = time.Parse(time.DateOnly, q.To)
	}
	return rng
}

// nameRequest validates a bare path name.
type nameRequest struct {
	Name string `validate:"required,entityname"`
}
