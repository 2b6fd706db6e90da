// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package credential

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/toeirei/fleetmaster/internal/executor"
	"golang.org/x/crypto/ssh"
)

// ProbeTimeout bounds the connect phase of a validation probe.
const ProbeTimeout = executor.ConnectTimeoutSeconds * time.Second

// ExecProber validates keys by running the ssh binary.
type ExecProber struct {
	Exec executor.Executor
}

// Probe runs `ssh ... exit 0` against t.
func (p ExecProber) Probe(ctx context.Context, t executor.Target) error {
	_, err := p.Exec.Execute(ctx, executor.SSHProbe(t))
	return err
}

// NativeProber validates keys with an in-process ssh client. Host keys are
// accepted on first use, matching the ssh binary's
// StrictHostKeyChecking=no.
type NativeProber struct {
	Timeout time.Duration
}

// Probe dials t, authenticates with its key and runs `exit 0`.
func (p NativeProber) Probe(ctx context.Context, t executor.Target) error {
	client, err := DialSSH(ctx, t, p.timeout())
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer session.Close()
	if err := session.Run("exit 0"); err != nil {
		return fmt.Errorf("run probe: %w", err)
	}
	return nil
}

func (p NativeProber) timeout() time.Duration {
	if p.Timeout <= 0 {
		return ProbeTimeout
	}
	return p.Timeout
}

// DialSSH opens an authenticated ssh client to t using the key at
// t.KeyPath. The connect and handshake phase is bounded by timeout and ctx.
func DialSSH(ctx context.Context, t executor.Target, timeout time.Duration) (*ssh.Client, error) {
	pem, err := os.ReadFile(t.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	// Clear the handshake deadline; sessions run unbounded.
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}
