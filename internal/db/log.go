// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import "github.com/toeirei/fleetmaster/internal/logging"

func dbLogf(format string, v ...any) {
	logging.With("component", "db").Debugf(format, v...)
}
