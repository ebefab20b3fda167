// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
)

func TestFromStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   Kind
	}{
		{429, KindRateLimited},
		{500, KindUpstreamServerError},
		{502, KindUpstreamServerError},
		{400, KindUpstreamClientError},
		{401, KindUpstreamClientError},
		{404, KindUpstreamClientError},
	}
	for _, tt := range tests {
		err := FromStatus("GET jobs", tt.status, "body")
		if err.Kind != tt.want {
			t.Errorf("FromStatus(%d).Kind = %v, want %v", tt.status, err.Kind, tt.want)
		}
		if !strings.Contains(err.Error(), fmt.Sprintf("HTTP %d", tt.status)) {
			t.Errorf("Error() = %q missing status", err.Error())
		}
	}
}

func TestClassifyNetworkErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindTransientNetwork},
		{"dns", &net.DNSError{Err: "no such host", Name: "api"}, KindTransientNetwork},
		{"deadline", context.DeadlineExceeded, KindTransientNetwork},
		{"plain", errors.New("decode failed"), KindUnknown},
	}
	for _, tt := range tests {
		got := KindOf(Classify("op", tt.err))
		if got != tt.want {
			t.Errorf("%s: kind = %v, want %v", tt.name, got, tt.want)
		}
	}

	if err := Classify("op", context.Canceled); !errors.Is(err, context.Canceled) || KindOf(err) != KindUnknown {
		t.Errorf("cancellation should pass through unclassified, got %v", err)
	}
}

func TestErrorIsMatchesSentinelOfKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("page 3: %w", New(KindLoadConflict, "merge", errors.New("streaming buffer")))
	if !errors.Is(err, ErrLoadConflict) {
		t.Error("wrapped LoadConflict should match ErrLoadConflict")
	}
	if errors.Is(err, ErrRateLimited) {
		t.Error("LoadConflict must not match ErrRateLimited")
	}
	if KindLoadConflict.String() != "load_conflict" {
		t.Errorf("String() = %q", KindLoadConflict.String())
	}
}
