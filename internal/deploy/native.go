// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/toeirei/fleetmaster/internal/credential"
	"github.com/toeirei/fleetmaster/internal/executor"
	"golang.org/x/crypto/ssh"
)

// NativeDialer reaches hosts with an in-process ssh client and uploads files
// over sftp. One connection serves the whole pipeline.
type NativeDialer struct {
	Timeout time.Duration
}

// Dial connects and authenticates to t.
func (d NativeDialer) Dial(ctx context.Context, t executor.Target) (RemoteShell, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = credential.ProbeTimeout
	}
	client, err := credential.DialSSH(ctx, t, timeout)
	if err != nil {
		return nil, err
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	return &nativeShell{target: t, client: client, sftp: sftpClient}, nil
}

type nativeShell struct {
	target executor.Target
	client *ssh.Client
	sftp   *sftp.Client
}

// Run executes cmd in a new session. Failures are reported as
// *executor.CommandError so callers see the same error for both transports.
func (s *nativeShell) Run(ctx context.Context, cmd string) error {
	session, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return ctx.Err()
	case r := <-done:
		if r.err == nil {
			return nil
		}
		cerr := &executor.CommandError{
			Program:    "ssh",
			Args:       []string{s.target.Address(), cmd},
			Stderr:     r.out,
			ExitStatus: -1,
			Err:        r.err,
		}
		var exitErr *ssh.ExitError
		if errors.As(r.err, &exitErr) {
			cerr.ExitStatus = exitErr.ExitStatus()
		}
		return cerr
	}
}

// Copy uploads src to a temporary name next to dst, applies the local file
// mode and renames it into place.
func (s *nativeShell) Copy(ctx context.Context, src, dst string) error {
	local, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer local.Close()
	info, err := local.Stat()
	if err != nil {
		return err
	}

	tmpPath := path.Join(path.Dir(dst), fmt.Sprintf(".%s.fleetmaster.%d", path.Base(dst), time.Now().UnixNano()))
	f, err := s.sftp.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file on remote: %w", err)
	}
	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: local}); err != nil {
		f.Close()
		_ = s.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to write to temporary file on remote: %w", err)
	}
	f.Close()

	if err := s.sftp.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		_ = s.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temporary file: %w", err)
	}
	if err := s.sftp.PosixRename(tmpPath, dst); err != nil {
		_ = s.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s into place: %w", dst, err)
	}
	return nil
}

func (s *nativeShell) Close() error {
	return errors.Join(s.sftp.Close(), s.client.Close())
}

// ctxReader stops an upload once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
