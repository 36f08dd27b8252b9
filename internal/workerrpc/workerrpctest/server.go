// Package workerrpctest provides an in-process fake worker for exercising
// internal/worker, internal/cluster, and internal/fanout against a real
// gRPC connection instead of a mock interface, mirroring the
// real-listener-and-client style of testServerAndClient helpers elsewhere
// in the retrieved pack.
package workerrpctest

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/crunchdao/model-runner-orchestrator/internal/workerrpc"
)

// Server is a minimal fake worker: its Setup/Call behavior is entirely
// driven by the SetupFunc/CallFunc fields. NewServer starts serving at
// once; set the fields before the RPCs they should affect.
type Server struct {
	SetupFunc func(ctx context.Context, req *workerrpc.SetupRequest) (*workerrpc.SetupResponse, error)
	CallFunc  func(ctx context.Context, req *workerrpc.CallRequest) (*workerrpc.CallResponse, error)

	Host string
	Port int

	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer starts a listening fake worker and registers a cleanup to stop
// it when the test completes.
func NewServer(t *testing.T) *Server {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("workerrpctest: listen: %v", err)
	}

	s := &Server{
		Host:       "127.0.0.1",
		Port:       lis.Addr().(*net.TCPAddr).Port,
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	s.grpcServer.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	go s.grpcServer.Serve(lis) //nolint:errcheck // best-effort; stopped by t.Cleanup

	t.Cleanup(s.Stop)
	return s
}

// SetServing sets the standard health-check status the worker reports.
func (s *Server) SetServing(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
}

// Stop shuts the fake worker down immediately.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

func (s *Server) setup(ctx context.Context, req *workerrpc.SetupRequest) (*workerrpc.SetupResponse, error) {
	if s.SetupFunc != nil {
		return s.SetupFunc(ctx, req)
	}
	return &workerrpc.SetupResponse{Status: workerrpc.StatusOK}, nil
}

func (s *Server) call(ctx context.Context, req *workerrpc.CallRequest) (*workerrpc.CallResponse, error) {
	if s.CallFunc != nil {
		return s.CallFunc(ctx, req)
	}
	return &workerrpc.CallResponse{Status: workerrpc.StatusOK}, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "modelrunner.v1.WorkerService",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Setup", Handler: setupHandler},
		{MethodName: "Call", Handler: callHandler},
	},
	Metadata: "workerrpctest",
}

func setupHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req workerrpc.SetupRequest
	if err := dec(&req); err != nil {
		return nil, status.Errorf(codes.Internal, "decoding setup request: %v", err)
	}
	return srv.(*Server).setup(ctx, &req)
}

func callHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req workerrpc.CallRequest
	if err := dec(&req); err != nil {
		return nil, status.Errorf(codes.Internal, "decoding call request: %v", err)
	}
	return srv.(*Server).call(ctx, &req)
}
