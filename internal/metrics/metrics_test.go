// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSync(t *testing.T) {
	before := testutil.ToFloat64(SyncRecordsProcessed.WithLabelValues("metrics_test_jobs"))

	RecordSync("metrics_test_jobs", "incremental", 2*time.Second, 150, "", nil)

	after := testutil.ToFloat64(SyncRecordsProcessed.WithLabelValues("metrics_test_jobs"))
	if after-before != 150 {
		t.Errorf("records processed delta = %v, want 150", after-before)
	}
	if testutil.ToFloat64(SyncLastSuccess.WithLabelValues("metrics_test_jobs")) == 0 {
		t.Error("last success timestamp not set")
	}
}

func TestRecordSyncFailure(t *testing.T) {
	RecordSync("metrics_test_fail", "full", time.Second, 0, "loading", errors.New("boom"))

	if got := testutil.ToFloat64(SyncErrors.WithLabelValues("metrics_test_fail", "loading")); got != 1 {
		t.Errorf("sync errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(SyncRecordsProcessed.WithLabelValues("metrics_test_fail")); got != 0 {
		t.Errorf("failed run must not count records, got %v", got)
	}
}

func TestRecordUpstreamRequest(t *testing.T) {
	before := testutil.ToFloat64(UpstreamRequests.WithLabelValues("metrics_test", "error"))
	RecordUpstreamRequest("metrics_test", 10*time.Millisecond, errors.New("timeout"))
	RecordUpstreamRequest("metrics_test", 10*time.Millisecond, nil)

	if got := testutil.ToFloat64(UpstreamRequests.WithLabelValues("metrics_test", "error")) - before; got != 1 {
		t.Errorf("error outcome delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(UpstreamRequests.WithLabelValues("metrics_test", "success")); got < 1 {
		t.Errorf("success outcome = %v, want >= 1", got)
	}
}

func TestRecordDBQuery(t *testing.T) {
	RecordDBQuery("merge", "metrics_test_table", 5*time.Millisecond, errors.New("conflict"))
	RecordDBQuery("merge", "metrics_test_table", 5*time.Millisecond, nil)

	if got := testutil.ToFloat64(DBQueryErrors.WithLabelValues("merge", "metrics_test_table")); got != 1 {
		t.Errorf("db errors = %v, want 1", got)
	}
}
