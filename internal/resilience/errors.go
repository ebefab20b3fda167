// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// Kind classifies a pipeline failure. The backoff executor, the circuit
// breaker and the orchestrator all decide what to do from the Kind alone.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthenticationFailed
	KindRateLimited
	KindTransientNetwork
	KindUpstreamServerError
	KindUpstreamClientError
	KindCircuitOpen
	KindRetryExhausted
	KindSchemaDrift
	KindLoadConflict
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindAuthenticationFailed: "authentication_failed",
	KindRateLimited:          "rate_limited",
	KindTransientNetwork:     "transient_network",
	KindUpstreamServerError:  "upstream_server_error",
	KindUpstreamClientError:  "upstream_client_error",
	KindCircuitOpen:          "circuit_open",
	KindRetryExhausted:       "retry_exhausted",
	KindSchemaDrift:          "schema_drift",
	KindLoadConflict:         "load_conflict",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRateLimited          = errors.New("rate limited")
	ErrTransientNetwork     = errors.New("transient network failure")
	ErrUpstreamServer       = errors.New("upstream server error")
	ErrUpstreamClient       = errors.New("upstream client error")
	ErrCircuitOpen          = errors.New("circuit open")
	ErrRetryExhausted       = errors.New("retries exhausted")
	ErrSchemaDrift          = errors.New("schema drift")
	ErrLoadConflict         = errors.New("load conflict")
)

var sentinels = map[Kind]error{
	KindAuthenticationFailed: ErrAuthenticationFailed,
	KindRateLimited:          ErrRateLimited,
	KindTransientNetwork:     ErrTransientNetwork,
	KindUpstreamServerError:  ErrUpstreamServer,
	KindUpstreamClientError:  ErrUpstreamClient,
	KindCircuitOpen:          ErrCircuitOpen,
	KindRetryExhausted:       ErrRetryExhausted,
	KindSchemaDrift:          ErrSchemaDrift,
	KindLoadConflict:         ErrLoadConflict,
}

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "GET jpm/v2/tenant/{tenant}/jobs".
	Op string
	// StatusCode is the upstream HTTP status, 0 when no response was received.
	StatusCode int
	// RetryAfter is the upstream's requested wait on 429, 0 when absent.
	RetryAfter time.Duration
	// Attempts is set on RetryExhausted errors.
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Kind == KindRetryExhausted {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the outermost *Error in err's chain,
// classifying unwrapped network errors along the way.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if isTransientNetwork(err) {
		return KindTransientNetwork
	}
	return KindUnknown
}

// FromStatus classifies an upstream HTTP status code.
func FromStatus(op string, status int, body string) *Error {
	var kind Kind
	switch {
	case status == 429:
		kind = KindRateLimited
	case status >= 500:
		kind = KindUpstreamServerError
	default:
		kind = KindUpstreamClientError
	}
	var err error
	if body != "" {
		err = errors.New(body)
	}
	return &Error{Kind: kind, Op: op, StatusCode: status, Err: err}
}

// Classify wraps transport-level failures (timeouts, resets, DNS) as
// TransientNetwork. Already classified errors and cancellations pass through.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) || errors.Is(err, context.Canceled) {
		return err
	}
	if isTransientNetwork(err) {
		return &Error{Kind: KindTransientNetwork, Op: op, Err: err}
	}
	return err
}

func isTransientNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// DefaultShouldRetry retries rate limits, transient network failures and
// upstream 5xx responses. Authentication failures, other 4xx, an open
// circuit and cancellation are returned immediately. Unclassified errors are
// retried.
func DefaultShouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindRateLimited, KindTransientNetwork, KindUpstreamServerError, KindUnknown:
		return true
	default:
		return false
	}
}
