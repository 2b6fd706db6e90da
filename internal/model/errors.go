// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "errors"

// ErrNotFound is returned by repositories for an unknown host id.
var ErrNotFound = errors.New("not found")
