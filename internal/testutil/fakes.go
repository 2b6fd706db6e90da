// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/toeirei/fleetmaster/internal/deploy"
	"github.com/toeirei/fleetmaster/internal/model"
)

// FakeEnroller succeeds unless Err is set, and records service actions.
type FakeEnroller struct {
	mu      sync.Mutex
	Err     error
	CtlErr  error
	Runs    int
	Actions []deploy.ServiceAction
}

func (f *FakeEnroller) Run(_ context.Context, req model.EnrollmentRequest) (*model.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Runs++
	if f.Err != nil {
		return nil, f.Err
	}
	req.Normalize()
	scope := model.KeyScopeGlobal
	if req.HasKey() {
		scope = model.KeyScopeHost
	}
	return &model.Host{
		Name:     req.Name,
		IP:       req.IP,
		State:    model.Transition("", model.EventEnrolled),
		SSHUser:  req.User,
		SSHPort:  req.Port,
		KeyScope: scope,
	}, nil
}

func (f *FakeEnroller) ServiceControl(_ context.Context, _ model.Host, action deploy.ServiceAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Actions = append(f.Actions, action)
	return f.CtlErr
}

// FakeProber reports hosts reachable unless their address is marked down.
type FakeProber struct {
	mu    sync.Mutex
	down  map[netip.Addr]bool
	calls atomic.Int64
	// Hook, when set, runs inside every probe.
	Hook func(h model.Host)
}

// NewFakeProber returns a prober that finds every host reachable.
func NewFakeProber() *FakeProber {
	return &FakeProber{down: map[netip.Addr]bool{}}
}

// SetReachable marks ip up or down.
func (f *FakeProber) SetReachable(ip netip.Addr, up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[ip] = !up
}

// Calls returns the number of probes so far.
func (f *FakeProber) Calls() int { return int(f.calls.Load()) }

func (f *FakeProber) Probe(_ context.Context, h model.Host) model.HeartbeatResult {
	f.calls.Add(1)
	if f.Hook != nil {
		f.Hook(h)
	}
	f.mu.Lock()
	down := f.down[h.IP]
	f.mu.Unlock()
	if down {
		return model.HeartbeatResult{Err: errors.New("unreachable")}
	}
	return model.HeartbeatResult{OK: true}
}

// SequenceIDs hands out 1, 2, 3, ...
type SequenceIDs struct {
	n atomic.Int64
}

func (s *SequenceIDs) Next() model.HostID { return model.HostID(s.n.Add(1)) }
