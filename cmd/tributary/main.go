// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Command tributary runs pipeline syncs, backfills and maintenance from the
// command line. See "tributary --help".
package main

import (
	"os"

	"github.com/tomtom215/tributary/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
