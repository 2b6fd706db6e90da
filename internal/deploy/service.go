// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"fmt"

	"github.com/toeirei/fleetmaster/internal/model"
)

// ServiceAction is a systemctl verb applied to the agent unit.
type ServiceAction string

const (
	ActionStop  ServiceAction = "stop"
	ActionStart ServiceAction = "start"
)

// ServiceControl runs `systemctl <action> <unit>` on an enrolled host with
// its committed credential.
func (p *Pipeline) ServiceControl(ctx context.Context, h model.Host, action ServiceAction) error {
	switch action {
	case ActionStop, ActionStart:
	default:
		return fmt.Errorf("unsupported service action %q", action)
	}
	cred, err := p.creds.ForHost(h.IP, h.KeyScope)
	if err != nil {
		return err
	}
	shell, err := p.dialer.Dial(ctx, cred.Target(h.SSHUser, h.SSHPort))
	if err != nil {
		return err
	}
	defer shell.Close()
	return shell.Run(ctx, fmt.Sprintf("systemctl %s %s", action, p.opts.Unit))
}
