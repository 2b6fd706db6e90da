// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/toeirei/fleetmaster/internal/logging"
)

// NATSPublisher publishes events to <prefix>.<host id>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func connect(url, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	nc, err := connect(url, "fleetmaster")
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

// Subject returns the subject events for id are published on.
func Subject(prefix string, e HostEvent) string {
	return prefix + "." + e.HostID.String()
}

func (p *NATSPublisher) Publish(_ context.Context, e HostEvent) error {
	if p.nc == nil || p.nc.IsClosed() {
		return errors.New("nats not connected")
	}
	data, err := e.Marshal()
	if err != nil {
		return err
	}
	return p.nc.Publish(Subject(p.prefix, e), data)
}

// Close flushes pending messages and disconnects.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

// Watch subscribes to every host event under prefix and calls fn for each
// until ctx is done.
func Watch(ctx context.Context, url, prefix string, fn func(HostEvent)) error {
	nc, err := connect(url, "fleetmaster-watch")
	if err != nil {
		return err
	}
	defer nc.Close()

	sub, err := nc.Subscribe(prefix+".>", func(m *nats.Msg) {
		var e HostEvent
		if err := json.Unmarshal(m.Data, &e); err != nil {
			logging.Warnf("dropping malformed event on %s: %v", m.Subject, err)
			return
		}
		fn(e)
	})
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	<-ctx.Done()
	return nil
}
