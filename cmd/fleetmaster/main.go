// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Command fleetmaster is the controller: it enrolls hosts, runs the
// heartbeat loop and serves the operator API. See --help for commands.
package main

import (
	"os"

	"github.com/toeirei/fleetmaster/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}
