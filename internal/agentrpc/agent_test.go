// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package agentrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func startServer(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := NewServer()
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return lis.Addr().String()
}

func dial(t *testing.T, addr string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestEchoServer(t *testing.T) {
	for _, msg := range []string{"ping", "", "héllo"} {
		out, err := EchoServer{}.Ping(context.Background(), wrapperspb.String(msg))
		if err != nil {
			t.Fatalf("Ping(%q): %v", msg, err)
		}
		if out.GetValue() != msg {
			t.Fatalf("Ping(%q) = %q", msg, out.GetValue())
		}
	}
}

func TestPingOverGRPC(t *testing.T) {
	conn := dial(t, startServer(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := NewAgentClient(conn).Ping(ctx, wrapperspb.String("are you there"))
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if out.GetValue() != "are you there" {
		t.Fatalf("unexpected echo %q", out.GetValue())
	}
}

func TestHealthService(t *testing.T) {
	conn := dial(t, startServer(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v", resp.GetStatus())
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan net.Addr, 1)
	errc := make(chan error, 1)
	go func() { errc <- Serve(ctx, lis, func(a net.Addr) { ready <- a }) }()

	addr := <-ready
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer pingCancel()
	out, err := NewAgentClient(dial(t, addr.String())).Ping(pingCtx, wrapperspb.String("hello"))
	if err != nil || out.GetValue() != "hello" {
		t.Fatalf("Ping = %v, %v", out, err)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
}

func TestListenAndServeBadAddr(t *testing.T) {
	if err := ListenAndServe(context.Background(), "256.0.0.1:bad"); err == nil {
		t.Fatalf("expected listen error")
	}
}
