// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package security holds helpers for handling sensitive material.
package security

import (
	"encoding/json"
	"fmt"
	"io"
)

const redacted = "[SECRET]"

// Secret holds sensitive bytes such as a private key supplied for
// enrollment. Formatting and encoding it never reveals the content.
type Secret []byte

// String redacts the secret for fmt.Print* convenience.
func (s Secret) String() string { return redacted }

// Format implements fmt.Formatter so every verb, including %#v, is redacted.
func (s Secret) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

// MarshalJSON redacts secrets in JSON output.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

// MarshalText redacts secrets for text encoders such as yaml.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Zero overwrites the underlying bytes.
func (s Secret) Zero() {
	clear(s)
}

// FromBytes copies in into a new Secret.
func FromBytes(in []byte) Secret {
	if in == nil {
		return nil
	}
	out := make(Secret, len(in))
	copy(out, in)
	return out
}
