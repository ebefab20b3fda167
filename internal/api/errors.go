// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/tributary/internal/ingest"
	"github.com/tomtom215/tributary/internal/models"
)

// Error codes carried in models.APIError.Code.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeSyncFailed       = "SYNC_FAILED"
	ErrCodeDatabase         = "DATABASE_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// respondSyncError maps an orchestrator error to a status and envelope.
// res is the failed run's Result when the run got as far as starting.
func (h *Handler) respondSyncError(w http.ResponseWriter, r *http.Request, err error, res *ingest.Result) {
	var se *ingest.SyncError
	switch {
	case errors.As(err, &se):
		respondAPIError(w, r, http.StatusInternalServerError, &models.APIError{
			Code:    ErrCodeSyncFailed,
			Message: se.Error(),
			Details: map[string]interface{}{
				"entity": se.EntityType,
				"stage":  string(se.Stage),
				"run_id": se.RunID,
			},
		}, res, err)
	case errors.Is(err, ingest.ErrUnknownEntity):
		respondAPIError(w, r, http.StatusNotFound, &models.APIError{
			Code:    ErrCodeNotFound,
			Message: err.Error(),
			Details: map[string]interface{}{"available": h.available()},
		}, nil, nil)
	case errors.Is(err, ingest.ErrSyncInProgress):
		respondAPIError(w, r, http.StatusConflict, &models.APIError{
			Code:    ErrCodeConflict,
			Message: err.Error(),
		}, nil, nil)
	case errors.Is(err, ingest.ErrInvalidMode):
		respondAPIError(w, r, http.StatusBadRequest, &models.APIError{
			Code:    ErrCodeValidation,
			Message: err.Error(),
		}, nil, nil)
	default:
		respondAPIError(w, r, http.StatusInternalServerError, &models.APIError{
			Code:    ErrCodeInternal,
			Message: "Internal error",
		}, nil, err)
	}
}

// available lists every name the run endpoints accept.
func (h *Handler) available() []string {
	reg := h.syncer.Registry()
	names := append([]string{}, reg.Entities()...)
	names = append(names, reg.References()...)
	return append(names, reg.Reports()...)
}

// respondValidation sends a 400 for a failed request struct.
func respondValidation(w http.ResponseWriter, r *http.Request, apiErr *models.APIError) {
	respondAPIError(w, r, http.StatusBadRequest, apiErr, nil, nil)
}
