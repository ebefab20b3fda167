// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package main

import (
	"os"

	"github.com/tomtom215/tributary/internal/cli"
)

func main() {
	os.Exit(cli.Run(append([]string{"serve"}, os.Args[1:]...)))
}
