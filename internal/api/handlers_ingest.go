// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tributary/internal/ingest"
	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/models"
)

// Ingest syncs one entity. mode defaults to incremental.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	req := parseSyncRequest(r, "entity")
	h.syncOne(w, r, req)
}

// FullSync syncs one entity in full mode.
func (h *Handler) FullSync(w http.ResponseWriter, r *http.Request) {
	req := parseSyncRequest(r, "entity")
	req.Mode = ingest.ModeFull
	h.syncOne(w, r, req)
}

// IngestRef refreshes one reference dimension. Non-reference names are
// rejected so that a typo cannot start a full entity sync.
func (h *Handler) IngestRef(w http.ResponseWriter, r *http.Request) {
	req := parseSyncRequest(r, "entity")
	req.Mode = ingest.ModeFull
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, r, apiErr)
		return
	}
	e, err := h.syncer.Registry().Get(req.Name)
	if err == nil && !e.Reference {
		err = fmt.Errorf("%w: %s is not a reference dimension", ingest.ErrUnknownEntity, req.Name)
	}
	if err != nil {
		h.respondSyncError(w, r, err, nil)
		return
	}
	h.syncOne(w, r, req)
}

func (h *Handler) syncOne(w http.ResponseWriter, r *http.Request, req syncRequest) {
	start := time.Now()
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, r, apiErr)
		return
	}

	res, err := h.syncer.Sync(r.Context(), req.Name, req.Mode)
	if err != nil {
		h.respondSyncError(w, r, err, res)
		return
	}
	respondSuccess(w, r, http.StatusOK, res, start)
}

// IngestAll syncs every entity. It answers 207 with status partial when
// any entity failed.
func (h *Handler) IngestAll(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := parseSyncRequest(r, "")
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, r, apiErr)
		return
	}

	results := h.syncer.SyncAll(r.Context(), req.Mode, req.parallel())
	respondSummary(w, r, summarize(req.Mode, req.parallel(), results), start)
}

// IngestRefAll refreshes every reference dimension.
func (h *Handler) IngestRefAll(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := parseSyncRequest(r, "")
	req.Mode = ingest.ModeFull
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, r, apiErr)
		return
	}

	results := h.syncer.SyncReferences(r.Context(), req.parallel())
	respondSummary(w, r, summarize(req.Mode, req.parallel(), results), start)
}

func summarize(mode string, parallel bool, results []*ingest.Result) models.SyncSummary {
	sum := models.SyncSummary{Mode: mode, Parallel: parallel, Total: len(results), Results: results}
	for _, res := range results {
		if res.Success {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		sum.Records += res.RecordsProcessed
	}
	return sum
}

func respondSummary(w http.ResponseWriter, r *http.Request, sum models.SyncSummary, start time.Time) {
	if sum.Failed == 0 {
		respondSuccess(w, r, http.StatusOK, sum, start)
		return
	}
	respondJSON(w, http.StatusMultiStatus, &models.APIResponse{
		Status:   models.StatusPartial,
		Data:     sum,
		Metadata: requestMetadata(r, start),
	})
}

// IngestReport loads a report. from and to (YYYY-MM-DD) override the range
// implied by mode.
func (h *Handler) IngestReport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := parseReportRequest(r)
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, r, apiErr)
		return
	}
	rng := req.reportRange()
	if !rng.From.IsZero() && !rng.To.IsZero() && rng.From.After(rng.To) {
		respondValidation(w, r, &models.APIError{
			Code:    ErrCodeValidation,
			Message: "from must not be after to",
		})
		return
	}

	res, err := h.syncer.SyncReport(r.Context(), req.Name, req.Mode, rng)
	if err != nil {
		h.respondSyncError(w, r, err, res)
		return
	}
	respondSuccess(w, r, http.StatusOK, res, start)
}

// BackfillAsync starts a full sync of every entity in the background and
// answers 202 at once. The correlation id tags every log line of the
// backfill.
func (h *Handler) BackfillAsync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := h.syncer.BackfillAsync(r.Context())
	logging.Ctx(r.Context()).Info().Str("backfill_id", id).Msg("Backfill accepted")

	respondSuccess(w, r, http.StatusAccepted, models.BackfillAccepted{
		CorrelationID: id,
		Status:        "accepted",
		AcceptedAt:    start.UTC(),
		Message:       "Full backfill started; follow progress with GET /status/{entity}",
	}, start)
}

// Compact deduplicates an entity's table by primary key.
func (h *Handler) Compact(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := nameRequest{Name: chi.URLParam(r, "entity")}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, r, apiErr)
		return
	}

	res, err := h.syncer.Compact(r.Context(), req.Name)
	if err != nil {
		h.respondSyncError(w, r, err, nil)
		return
	}
	respondSuccess(w, r, http.StatusOK, res, start)
}
