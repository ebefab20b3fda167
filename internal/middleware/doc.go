// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

/*
Package middleware provides the HTTP middleware shared by every route.

Key Components:

  - RequestID: request and correlation ids on the context, the logger and
    the response headers. A sync started by a request logs its correlation id.
  - PrometheusMetrics: request count and latency per chi route pattern
  - Compression: gzip for responses over 1KB via klauspost/compress/gzhttp

The middlewares take and return http.HandlerFunc. The api package adapts
them to chi with chiMiddleware.
*/
package middleware
