// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package heartbeat probes host agents over gRPC. A probe never returns an
// error: every failure mode is folded into the HeartbeatResult.
package heartbeat

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/toeirei/fleetmaster/internal/agentrpc"
	"github.com/toeirei/fleetmaster/internal/metrics"
	"github.com/toeirei/fleetmaster/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DefaultTimeout bounds a single Ping.
const DefaultTimeout = 3 * time.Second

// Payload is the message sent with every probe.
const Payload = "ping"

// RPCError is the error carried by a failed HeartbeatResult. Code is
// codes.Unknown for an echo mismatch.
type RPCError struct {
	Addr string
	Code codes.Code
	Err  error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("heartbeat %s: %s: %v", e.Addr, e.Code, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// Client probes agents listening on a fixed port.
type Client struct {
	port     uint16
	timeout  time.Duration
	metrics  *metrics.Metrics
	dialOpts []grpc.DialOption
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records probe counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDialOptions appends gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// New returns a Client for agents on port. A non-positive timeout selects
// DefaultTimeout.
func New(port uint16, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		port:     port,
		timeout:  timeout,
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Probe pings the agent on h and reports the outcome.
func (c *Client) Probe(ctx context.Context, h model.Host) model.HeartbeatResult {
	addr := netip.AddrPortFrom(h.IP, c.port).String()
	start := time.Now()
	err := c.ping(ctx, addr)
	latency := time.Since(start)

	if c.metrics != nil {
		c.metrics.HeartbeatTotal.Inc()
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.HeartbeatErrors.WithLabelValues(err.Code.String()).Inc()
		}
		return model.HeartbeatResult{OK: false, Err: err, Latency: latency}
	}
	if c.metrics != nil {
		c.metrics.HeartbeatLatency.Observe(latency.Seconds())
	}
	return model.HeartbeatResult{OK: true, Latency: latency}
}

func (c *Client) ping(ctx context.Context, addr string) *RPCError {
	conn, err := grpc.NewClient(addr, c.dialOpts...)
	if err != nil {
		return &RPCError{Addr: addr, Code: codes.Unavailable, Err: err}
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := agentrpc.NewAgentClient(conn).Ping(ctx, wrapperspb.String(Payload))
	if err != nil {
		return &RPCError{Addr: addr, Code: status.Code(err), Err: err}
	}
	if out.GetValue() != Payload {
		return &RPCError{Addr: addr, Code: codes.Unknown, Err: fmt.Errorf("echo mismatch: sent %q, got %q", Payload, out.GetValue())}
	}
	return nil
}
