// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/ingest"
	"github.com/tomtom215/tributary/internal/models"
)

// Entities lists the registered entities followed by the reports.
func (h *Handler) Entities(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reg := h.syncer.Registry()

	infos := make([]models.EntityInfo, 0, len(reg.Entities())+len(reg.Reports()))
	for _, name := range reg.Entities() {
		e, err := reg.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, entityInfo(e))
	}
	for _, name := range reg.Reports() {
		rep, err := reg.Report(name)
		if err != nil {
			continue
		}
		infos = append(infos, models.EntityInfo{
			Name:           rep.Name,
			Kind:           "report",
			Table:          rep.Table,
			PrimaryKey:     rep.PrimaryKey,
			PartitionField: rep.DateColumn,
			Columns:        len(rep.Schema()),
		})
	}

	respondSuccess(w, r, http.StatusOK, models.EntityList{Entities: infos, Count: len(infos)}, start)
}

// RefEntities lists the reference dimensions.
func (h *Handler) RefEntities(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reg := h.syncer.Registry()

	infos := make([]models.EntityInfo, 0, len(reg.References()))
	for _, name := range reg.References() {
		e, err := reg.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, entityInfo(e))
	}

	respondSuccess(w, r, http.StatusOK, models.EntityList{Entities: infos, Count: len(infos)}, start)
}

func entityInfo(e *ingest.Entity) models.EntityInfo {
	kind := "entity"
	if e.Reference {
		kind = "reference"
	}
	return models.EntityInfo{
		Name:           e.Name,
		Kind:           kind,
		Table:          e.Table,
		PrimaryKey:     e.PrimaryKey,
		Incremental:    e.Incremental,
		PartitionField: e.PartitionField,
		ClusterFields:  e.ClusterFields,
		Columns:        len(e.Schema()),
	}
}

// Status returns the latest run logs of an entity, newest first.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	runName, ok := h.resolveName(w, r)
	if !ok {
		return
	}

	runs, err := h.store.RecentRuns(r.Context(), runName, statusRunLimit)
	if err != nil {
		respondAPIError(w, r, http.StatusInternalServerError, &models.APIError{
			Code:    ErrCodeDatabase,
			Message: "Failed to read run logs",
		}, nil, err)
		return
	}
	if runs == nil {
		runs = []database.RunLog{}
	}

	respondSuccess(w, r, http.StatusOK, models.RunHistory{Entity: runName, Runs: runs, Count: len(runs)}, start)
}

// LastSync returns the current watermark of an entity.
func (h *Handler) LastSync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	runName, ok := h.resolveName(w, r)
	if !ok {
		return
	}

	wm, err := h.store.GetWatermark(r.Context(), runName)
	if err != nil {
		respondAPIError(w, r, http.StatusInternalServerError, &models.APIError{
			Code:    ErrCodeDatabase,
			Message: "Failed to read watermark",
		}, nil, err)
		return
	}

	out := models.LastSync{Entity: runName, NeverSynced: wm == nil}
	if wm != nil {
		t := wm.LastSyncTime
		out.LastSyncTime = &t
		out.LastStatus = wm.LastStatus
		out.RecordsProcessed = wm.RecordsProcessed
	}
	respondSuccess(w, r, http.StatusOK, out, start)
}

// resolveName validates the {entity} path parameter and maps it to its run
// name. It writes the error response and returns false on failure.
func (h *Handler) resolveName(w http.ResponseWriter, r *http.Request) (string, bool) {
	req := nameRequest{Name: chi.URLParam(r, "entity")}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, r, apiErr)
		return "", false
	}
	runName, err := h.runName(req.Name)
	if err != nil {
		h.respondSyncError(w, r, err, nil)
		return "", false
	}
	return runName, true
}
