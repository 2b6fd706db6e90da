// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package executor is the only place in Fleetmaster that spawns external
// processes. Commands are plain values built by the typed builders in
// builders.go and run through an Executor; the process is killed when the
// caller's context is cancelled or the result is abandoned.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/toeirei/fleetmaster/internal/logging"
)

// DefaultWaitDelay bounds how long output pipes are drained after the
// process has been killed.
const DefaultWaitDelay = 2 * time.Second

// Command is a program with its ordered argument list.
type Command struct {
	Program string
	Args    []string
	// Dir is the working directory; empty means the current one.
	Dir string
}

// String renders the command line for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Program
	}
	return c.Program + " " + strings.Join(c.Args, " ")
}

// Executor runs a command to completion and returns its stdout.
type Executor interface {
	Execute(ctx context.Context, cmd Command) ([]byte, error)
}

// CommandError reports a spawn failure or a nonzero exit.
type CommandError struct {
	Program string
	Args    []string
	Stdout  []byte
	Stderr  []byte
	// ExitStatus is -1 when the process could not be started or was killed.
	ExitStatus int
	Err        error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s failed (exit %d)", Command{Program: e.Program, Args: e.Args}, e.ExitStatus)
	if s := strings.TrimSpace(string(e.Stderr)); s != "" {
		msg += ": " + s
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes commands with os/exec.
type Runner struct {
	WaitDelay time.Duration
}

// NewRunner returns a Runner with the default wait delay.
func NewRunner() *Runner {
	return &Runner{WaitDelay: DefaultWaitDelay}
}

// Execute runs cmd and blocks until it exits or ctx is done.
func (r *Runner) Execute(ctx context.Context, cmd Command) ([]byte, error) {
	logging.Debugf("exec: %s", cmd)

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.WaitDelay = r.waitDelay()

	if err := c.Run(); err != nil {
		cerr := &CommandError{
			Program:    cmd.Program,
			Args:       cmd.Args,
			Stdout:     stdout.Bytes(),
			Stderr:     stderr.Bytes(),
			ExitStatus: -1,
			Err:        err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cerr.ExitStatus = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			cerr.Err = errors.Join(ctxErr, err)
		}
		logging.Errorf("exec failed: %v", cerr)
		return stdout.Bytes(), cerr
	}
	return stdout.Bytes(), nil
}

func (r *Runner) waitDelay() time.Duration {
	if r == nil || r.WaitDelay <= 0 {
		return DefaultWaitDelay
	}
	return r.WaitDelay
}

// Start runs cmd in the background. The returned Future must be waited on;
// abandoning it through Wait's context kills the process.
func (r *Runner) Start(ctx context.Context, cmd Command) *Future {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer cancel()
		f.out, f.err = r.Execute(ctx, cmd)
	}()
	return f
}

// Future is the pending result of Runner.Start.
type Future struct {
	cancel context.CancelFunc
	done   chan struct{}
	out    []byte
	err    error
}

// Done is closed once the process has exited and output is collected.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the command finishes. If ctx ends first the process is
// killed and Wait returns once it has been reaped.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.out, f.err
	case <-ctx.Done():
		f.cancel()
		<-f.done
		return f.out, ctx.Err()
	}
}
