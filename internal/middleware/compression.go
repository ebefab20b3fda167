// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package middleware

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// compressionMinSize keeps small JSON bodies uncompressed.
const compressionMinSize = 1024

var gzipWrapper = mustGzipWrapper()

func mustGzipWrapper() func(http.Handler) http.HandlerFunc {
	w, err := gzhttp.NewWrapper(gzhttp.MinSize(compressionMinSize))
	if err != nil {
		panic(err)
	}
	return w
}

// Compression gzips responses larger than 1KB for clients that accept gzip.
// Run result lists for every entity easily pass that.
func Compression(next http.HandlerFunc) http.HandlerFunc {
	return gzipWrapper(next)
}
