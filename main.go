// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Fleetmaster.
//
// Usage:
//
//	go run . [command] [flags]
//	./fleetmaster [command] [flags]
//
// See --help for options.
package main

import (
	"os"

	"github.com/toeirei/fleetmaster/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
