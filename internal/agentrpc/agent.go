// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package agentrpc defines the agent's gRPC surface: a single Ping method
// that echoes its payload. Messages are protobuf well-known StringValues,
// so no generated code is needed.
package agentrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "fleetmaster.agent.v1.Agent"
	// PingMethod is the full method path used by clients.
	PingMethod = "/" + ServiceName + "/Ping"
	// DefaultPort is where the agent listens unless configured otherwise.
	DefaultPort = 18989
)

// AgentServer is implemented by the agent.
type AgentServer interface {
	Ping(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

// RegisterAgentServer attaches srv to s.
func RegisterAgentServer(s grpc.ServiceRegistrar, srv AgentServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func pingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PingMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentServer).Ping(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the Agent service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AgentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fleetmaster/agent/v1/agent.proto",
}

// AgentClient calls the agent.
type AgentClient interface {
	Ping(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
}

type agentClient struct {
	cc grpc.ClientConnInterface
}

// NewAgentClient wraps an established connection.
func NewAgentClient(cc grpc.ClientConnInterface) AgentClient {
	return &agentClient{cc: cc}
}

func (c *agentClient) Ping(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, PingMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// EchoServer answers Ping with its own payload.
type EchoServer struct{}

// Ping returns the received message unchanged.
func (EchoServer) Ping(_ context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(in.GetValue()), nil
}
