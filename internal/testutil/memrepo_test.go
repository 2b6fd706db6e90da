// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import "testing"

func TestMemoryRepositoryContract(t *testing.T) {
	RunRepositoryContract(t, func(*testing.T) Repository { return NewMemoryRepository() })
}
