// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/toeirei/fleetmaster/internal/security"
)

const (
	// DefaultSSHPort is used when an enrollment request names no port.
	DefaultSSHPort uint16 = 22
	// DefaultSSHUser is used when an enrollment request names no user.
	DefaultSSHUser = "root"
)

// ErrInvalidRequest wraps every validation failure of an EnrollmentRequest.
var ErrInvalidRequest = errors.New("invalid enrollment request")

// EnrollmentRequest is the input of a single enrollment. It carries key
// material and is never persisted.
type EnrollmentRequest struct {
	Name string
	IP   netip.Addr
	Port uint16
	User string
	// Key is an optional PEM/OpenSSH private key. When empty the global
	// fallback key is used. It is redacted when formatted.
	Key security.Secret
}

// Normalize fills in the default port and user.
func (r *EnrollmentRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.User = strings.TrimSpace(r.User)
	if r.Port == 0 {
		r.Port = DefaultSSHPort
	}
	if r.User == "" {
		r.User = DefaultSSHUser
	}
}

// Validate reports malformed requests before any side effect happens.
func (r EnrollmentRequest) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if !r.IP.IsValid() {
		errs = append(errs, errors.New("ip is required"))
	}
	if strings.ContainsAny(r.User, " @:/") {
		errs = append(errs, fmt.Errorf("invalid ssh user %q", r.User))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidRequest, errors.Join(errs...))
}

// HasKey reports whether the request supplies its own key material.
func (r EnrollmentRequest) HasKey() bool {
	return len(strings.TrimSpace(string(r.Key))) > 0
}
