// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"
)

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=Fleetmaster agent
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{.Exec}} --port {{.Port}}
Restart=always
RestartSec=5

[Install]
WantedBy=multi-user.target
`))

// RenderUnit returns the default systemd unit for the agent.
func RenderUnit(o Options) ([]byte, error) {
	var buf bytes.Buffer
	err := unitTemplate.Execute(&buf, struct {
		Exec string
		Port uint16
	}{o.RemoteBinary(), o.AgentPort})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EnsureUnitFile writes the default unit to o.LocalUnit unless an operator
// supplied one.
func EnsureUnitFile(o Options) error {
	if _, err := os.Stat(o.LocalUnit); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	data, err := RenderUnit(o)
	if err != nil {
		return fmt.Errorf("render unit: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(o.LocalUnit), 0o755); err != nil {
		return err
	}
	return os.WriteFile(o.LocalUnit, data, 0o644)
}
