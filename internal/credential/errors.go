// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package credential

import (
	"fmt"
	"net/netip"
)

// CredentialError reports missing or unusable key material: no global
// fallback, a malformed supplied key, or an I/O failure while staging.
type CredentialError struct {
	IP  netip.Addr
	Msg string
	Err error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential for %s: %s: %v", e.IP, e.Msg, e.Err)
	}
	return fmt.Sprintf("credential for %s: %s", e.IP, e.Msg)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// ConnectivityError reports a failed validation probe (timeout, refused
// connection or rejected key).
type ConnectivityError struct {
	IP   netip.Addr
	User string
	Port uint16
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot reach %s@%s port %d: %v", e.User, e.IP, e.Port, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }
