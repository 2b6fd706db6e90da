// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package agentrpc

import (
	"context"
	"fmt"
	"net"

	"github.com/toeirei/fleetmaster/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer returns a grpc.Server serving the echo agent and the standard
// health service.
func NewServer(opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	RegisterAgentServer(s, EchoServer{})

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s
}

// Serve accepts on lis until ctx is done, then stops gracefully. ready, if
// non-nil, is called with the bound address before serving.
func Serve(ctx context.Context, lis net.Listener, ready func(net.Addr)) error {
	s := NewServer()
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logging.Infof("agent shutting down")
			s.GracefulStop()
		case <-done:
		}
	}()
	defer close(done)

	if ready != nil {
		ready(lis.Addr())
	}
	if err := s.Serve(lis); err != nil {
		return fmt.Errorf("agent serve: %w", err)
	}
	return nil
}

// ListenAndServe binds addr and calls Serve.
func ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("agent listen %s: %w", addr, err)
	}
	return Serve(ctx, lis, func(a net.Addr) {
		logging.Infof("agent listening on %s", a)
	})
}
