// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model holds the domain types shared by the registry, the
// enrollment pipeline and the storage backends.
package model

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// HostID identifies a host for its whole lifetime. It is assigned once at
// enrollment by the registry's id generator and never changes.
type HostID int64

// String returns the decimal form of the id.
func (id HostID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseHostID parses the decimal form produced by String.
func ParseHostID(s string) (HostID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid host id %q: %w", s, err)
	}
	return HostID(n), nil
}

// MarshalJSON encodes the id as a string so 64-bit ids survive JavaScript
// clients.
func (id HostID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts both the string and the bare number form.
func (id *HostID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return fmt.Errorf("invalid host id: %w", err)
		}
		*id = HostID(n)
		return nil
	}
	parsed, err := ParseHostID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// HostState is the liveness state of an enrolled host.
type HostState string

const (
	// StateRunning means the last heartbeat (or the enrollment) succeeded.
	StateRunning HostState = "running"
	// StateStopped is set by an operator stop; the periodic heartbeat loop
	// leaves stopped hosts alone.
	StateStopped HostState = "stopped"
	// StateDisconnected means the last heartbeat failed, or the host was
	// loaded from storage and has not been probed yet.
	StateDisconnected HostState = "disconnected"
)

// ParseHostState converts a stored or user-supplied state name.
func ParseHostState(s string) (HostState, error) {
	switch HostState(strings.ToLower(strings.TrimSpace(s))) {
	case StateRunning:
		return StateRunning, nil
	case StateStopped:
		return StateStopped, nil
	case StateDisconnected:
		return StateDisconnected, nil
	}
	return "", fmt.Errorf("unknown host state %q", s)
}

// KeyScope records which credential a host was enrolled with.
type KeyScope string

const (
	// KeyScopeGlobal means the host is reached with the global fallback key.
	KeyScopeGlobal KeyScope = "global"
	// KeyScopeHost means the host has its own committed key under ssh/keys.
	KeyScopeHost KeyScope = "host"
)

// Host is a remote machine enrolled in the fleet.
//
// SSHUser, SSHPort and KeyScope are kept so that operator commands can reach
// the host again with the committed credential after enrollment.
type Host struct {
	ID        HostID     `json:"id"`
	Name      string     `json:"name"`
	IP        netip.Addr `json:"ip"`
	State     HostState  `json:"state"`
	SSHUser   string     `json:"sshUser"`
	SSHPort   uint16     `json:"sshPort"`
	KeyScope  KeyScope   `json:"keyScope"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// String returns name(ip) for log lines.
func (h Host) String() string {
	return fmt.Sprintf("%s(%s)", h.Name, h.IP)
}

// HeartbeatResult is the outcome of a single liveness probe. Only its effect
// on Host.State is persisted.
type HeartbeatResult struct {
	OK      bool
	Err     error
	Latency time.Duration
}
