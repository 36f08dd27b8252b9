package workerrpc

import (
	"context"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client wraps a single gRPC connection to one worker, exposing the three
// operations the rest of the orchestrator needs: Setup (once, at handle
// initialization), Call (the fan-out target), and Health (the standard gRPC
// health checking protocol, used by the timeout-skip probe path).
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection. Dialing and its interceptor
// chain (auth, TLS) are the caller's responsibility — see internal/worker.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Setup performs the one-time worker-side handshake. Basic handles call it
// with a zero-value SetupRequest; DynamicSubclass handles populate
// ClassName/Args/Kwargs.
func (c *Client) Setup(ctx context.Context, req SetupRequest) (SetupResponse, error) {
	var resp SetupResponse
	err := c.conn.Invoke(ctx, fullMethodSetup, &req, &resp, grpc.CallContentSubtype(codecName))
	return resp, err
}

// Call invokes a named remote method. The returned error, if any, is a
// transport-level gRPC error (deadline exceeded, unavailable, ...); a
// non-nil response with Status != StatusOK indicates an application-level
// failure instead.
func (c *Client) Call(ctx context.Context, req CallRequest) (CallResponse, error) {
	var resp CallResponse
	err := c.conn.Invoke(ctx, fullMethodCall, &req, &resp, grpc.CallContentSubtype(codecName))
	return resp, err
}

// Health runs the standard gRPC health check against the worker.
func (c *Client) Health(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
