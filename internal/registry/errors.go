// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package registry

import (
	"fmt"

	"github.com/toeirei/fleetmaster/internal/model"
)

// NotFoundError reports an unknown host id.
type NotFoundError struct {
	ID model.HostID
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("host %s not found", e.ID) }

func (e *NotFoundError) Unwrap() error { return model.ErrNotFound }

// StorageError wraps a Repository failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }
