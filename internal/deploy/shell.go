// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"

	"github.com/toeirei/fleetmaster/internal/executor"
)

// RemoteShell runs commands on, and copies files to, a single host.
type RemoteShell interface {
	Run(ctx context.Context, cmd string) error
	Copy(ctx context.Context, src, dst string) error
	Close() error
}

// Dialer opens a RemoteShell to a target.
type Dialer interface {
	Dial(ctx context.Context, t executor.Target) (RemoteShell, error)
}

// ExecDialer reaches hosts through the ssh and scp binaries. Each call is a
// separate process; Dial itself does no I/O.
type ExecDialer struct {
	Exec executor.Executor
}

// Dial returns a shell bound to t.
func (d ExecDialer) Dial(_ context.Context, t executor.Target) (RemoteShell, error) {
	return &execShell{exec: d.Exec, target: t}, nil
}

type execShell struct {
	exec   executor.Executor
	target executor.Target
}

func (s *execShell) Run(ctx context.Context, cmd string) error {
	_, err := s.exec.Execute(ctx, executor.SSH(s.target, cmd))
	return err
}

func (s *execShell) Copy(ctx context.Context, src, dst string) error {
	_, err := s.exec.Execute(ctx, executor.SCP(s.target, src, dst))
	return err
}

func (s *execShell) Close() error { return nil }
