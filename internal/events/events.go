// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package events announces host lifecycle changes to other systems.
// Publishing is best effort: a failed publish is logged by the caller and
// never fails the operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/toeirei/fleetmaster/internal/model"
)

// HostEvent describes one state change of a host.
type HostEvent struct {
	HostID model.HostID    `json:"hostId"`
	Name   string          `json:"name"`
	IP     string          `json:"ip"`
	Event  string          `json:"event"`
	From   model.HostState `json:"from,omitempty"`
	To     model.HostState `json:"to"`
	At     time.Time       `json:"at"`
}

// NewHostEvent builds the event for h having moved from `from` on ev.
func NewHostEvent(h model.Host, from model.HostState, ev model.Event, at time.Time) HostEvent {
	return HostEvent{
		HostID: h.ID,
		Name:   h.Name,
		IP:     h.IP.String(),
		Event:  ev.String(),
		From:   from,
		To:     h.State,
		At:     at.UTC(),
	}
}

// Marshal encodes e as published on the wire.
func (e HostEvent) Marshal() ([]byte, error) { return json.Marshal(e) }

// Publisher delivers host events.
type Publisher interface {
	Publish(ctx context.Context, e HostEvent) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, HostEvent) error { return nil }
func (Nop) Close() error                            { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []HostEvent
}

func (r *Recorder) Publish(_ context.Context, e HostEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []HostEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HostEvent(nil), r.events...)
}
