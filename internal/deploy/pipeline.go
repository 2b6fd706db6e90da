// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package deploy installs the Fleetmaster agent on a host. Enrollment is a
// fixed sequence of steps run over a RemoteShell; the first failing step
// aborts the enrollment and nothing that already ran is rolled back.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"path"

	"github.com/toeirei/fleetmaster/internal/config"
	"github.com/toeirei/fleetmaster/internal/credential"
	"github.com/toeirei/fleetmaster/internal/logging"
	"github.com/toeirei/fleetmaster/internal/model"
)

// Step names an enrollment step.
type Step string

const (
	StepCredential Step = "credential"
	// StepConnect only fails for transports that hold a connection.
	StepConnect  Step = "connect"
	StepFirewall Step = "firewall"
	StepStop     Step = "stop"
	StepCopy     Step = "copy"
	StepActivate Step = "activate"
)

// DeploymentError reports the step that aborted an enrollment.
type DeploymentError struct {
	Step Step
	Host string
	Err  error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("enroll %s: step %s: %v", e.Host, e.Step, e.Err)
}

func (e *DeploymentError) Unwrap() error { return e.Err }

// Options describes the agent artifacts and where they go.
type Options struct {
	AgentPort uint16
	Binary    string
	Unit      string
	// LocalBinary and LocalUnit are the controller-side copies.
	LocalBinary string
	LocalUnit   string
	InstallDir  string
	UnitDir     string
}

// OptionsFromConfig derives pipeline options from the controller config.
func OptionsFromConfig(c config.Config) Options {
	return Options{
		AgentPort:   c.Agent.Port,
		Binary:      c.Agent.Binary,
		Unit:        c.Agent.Unit,
		LocalBinary: c.AgentBinaryPath(),
		LocalUnit:   c.AgentUnitPath(),
		InstallDir:  c.Agent.InstallDir,
		UnitDir:     c.Agent.UnitDir,
	}
}

// RemoteBinary is the install path of the agent on a host.
func (o Options) RemoteBinary() string { return path.Join(o.InstallDir, o.Binary) }

// RemoteUnit is the install path of the unit on a host.
func (o Options) RemoteUnit() string { return path.Join(o.UnitDir, o.Unit) }

// Credentials resolves and commits the key a host is reached with.
// *credential.Store implements it.
type Credentials interface {
	Resolve(ip netip.Addr, key []byte) (credential.Credential, error)
	ValidateAndCommit(ctx context.Context, cred credential.Credential, user string, port uint16) (credential.Credential, error)
	ForHost(ip netip.Addr, scope model.KeyScope) (credential.Credential, error)
}

// Pipeline enrolls hosts.
type Pipeline struct {
	creds  Credentials
	dialer Dialer
	opts   Options
}

// NewPipeline returns a Pipeline using creds for key handling and dialer to
// reach hosts.
func NewPipeline(creds Credentials, dialer Dialer, opts Options) *Pipeline {
	return &Pipeline{creds: creds, dialer: dialer, opts: opts}
}

// Run enrolls one host. On success the returned Host is Running and carries
// no id; the caller assigns one when persisting it.
func (p *Pipeline) Run(ctx context.Context, req model.EnrollmentRequest) (*model.Host, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s(%s)", req.Name, req.IP)
	fail := func(step Step, err error) (*model.Host, error) {
		logging.Errorf("enroll %s failed at %s: %v", name, step, err)
		return nil, &DeploymentError{Step: step, Host: name, Err: err}
	}

	logging.Infof("enroll %s: resolving credential", name)
	cred, err := p.creds.Resolve(req.IP, req.Key)
	if err != nil {
		return fail(StepCredential, err)
	}
	cred, err = p.creds.ValidateAndCommit(ctx, cred, req.User, req.Port)
	if err != nil {
		return fail(StepCredential, err)
	}
	// Temporary keys never reach a deployment command.
	if !cred.Usable() {
		return fail(StepCredential, errors.New("credential not committed"))
	}

	shell, err := p.dialer.Dial(ctx, cred.Target(req.User, req.Port))
	if err != nil {
		return fail(StepConnect, err)
	}
	defer shell.Close()

	logging.Infof("enroll %s: opening port %d/tcp", name, p.opts.AgentPort)
	if err := shell.Run(ctx, fmt.Sprintf("firewall-cmd --add-port %d/tcp", p.opts.AgentPort)); err != nil {
		return fail(StepFirewall, err)
	}

	// A host without a previous install has no unit to stop.
	if err := shell.Run(ctx, fmt.Sprintf("systemctl stop %s || true", p.opts.Unit)); err != nil {
		logging.Warnf("enroll %s: stopping previous agent: %v", name, err)
	}

	logging.Infof("enroll %s: copying agent", name)
	if err := EnsureUnitFile(p.opts); err != nil {
		return fail(StepCopy, err)
	}
	if err := shell.Copy(ctx, p.opts.LocalBinary, p.opts.RemoteBinary()); err != nil {
		return fail(StepCopy, err)
	}
	if err := shell.Copy(ctx, p.opts.LocalUnit, p.opts.RemoteUnit()); err != nil {
		return fail(StepCopy, err)
	}

	logging.Infof("enroll %s: activating %s", name, p.opts.Unit)
	for _, cmd := range []string{
		"systemctl daemon-reload",
		"systemctl start " + p.opts.Unit,
		"systemctl enable " + p.opts.Unit,
	} {
		if err := shell.Run(ctx, cmd); err != nil {
			return fail(StepActivate, err)
		}
	}

	logging.Infof("enroll %s: done", name)
	return &model.Host{
		Name:     req.Name,
		IP:       req.IP,
		State:    model.Transition("", model.EventEnrolled),
		SSHUser:  req.User,
		SSHPort:  req.Port,
		KeyScope: cred.Scope,
	}, nil
}
