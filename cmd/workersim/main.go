/*
Runs a debug model-runner worker simulator: a gRPC server implementing the
Setup/Call surface internal/workerrpc expects, plus the standard health
check, so the orchestrator's lifecycle controller and fan-out executor can
be exercised end to end without a real model-runner process.

For usage details, run workersim with the command line flag -h or --help.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/crunchdao/model-runner-orchestrator/internal/clog"
	"github.com/crunchdao/model-runner-orchestrator/internal/workerrpc"
)

func main() {
	var addr string
	var failAfter int
	var badImplementation bool
	var help bool
	var log bool

	flag.Usage = usage
	flag.StringVar(&addr, "a", ":9090", "address (host:port) to listen on")
	flag.IntVar(&failAfter, "f", 0, "fail every Nth Call with FAILED status (0 disables)")
	flag.BoolVar(&badImplementation, "b", false, "reject Setup with BAD_IMPLEMENTATION, simulating a broken worker")
	flag.BoolVar(&help, "h", false, "Show usage information")
	flag.BoolVar(&log, "l", false, "Show logging output (for debugging)")
	flag.Parse()

	if help {
		usage()
		os.Exit(0)
	}
	if log {
		clog.Enable()
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workersim: listening on %s: %v\n", addr, err)
		os.Exit(1)
	}

	sim := &simWorker{failAfter: int32(failAfter), badImplementation: badImplementation}

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&serviceDesc, sim)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	signaled := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer close(signaled)
		fmt.Printf("terminating workersim on signal %v...\n", <-sigCh)
	}()

	completed := make(chan struct{})
	go func() {
		defer close(completed)
		fmt.Printf("workersim listening on %s...\n", addr)
		if err := grpcServer.Serve(lis); err != nil {
			fmt.Fprintf(os.Stderr, "workersim: serve: %v\n", err)
		}
	}()

	select {
	case <-signaled:
		grpcServer.GracefulStop()
		<-completed
	case <-completed:
	}
}

func usage() {
	fmt.Printf(`usage: workersim [-h|--help] [-l] [-a address] [-f failAfter] [-b]

Starts a debug worker simulator for exercising the orchestrator's lifecycle
controller and fan-out executor without a real model-runner process.

Flags:
`)
	flag.PrintDefaults()
}

// simWorker implements the application-level Setup/Call surface.
type simWorker struct {
	badImplementation bool

	failAfter int32
	callCount atomic.Int32
}

func (s *simWorker) Setup(_ context.Context, req *workerrpc.SetupRequest) (*workerrpc.SetupResponse, error) {
	if s.badImplementation {
		return &workerrpc.SetupResponse{Status: workerrpc.StatusBadImplementation, Reason: "simulated broken worker"}, nil
	}
	return &workerrpc.SetupResponse{Status: workerrpc.StatusOK}, nil
}

func (s *simWorker) Call(_ context.Context, req *workerrpc.CallRequest) (*workerrpc.CallResponse, error) {
	n := s.callCount.Add(1)
	if s.failAfter > 0 && n%s.failAfter == 0 {
		return &workerrpc.CallResponse{Status: workerrpc.StatusFailed, Reason: "simulated failure"}, nil
	}
	return &workerrpc.CallResponse{
		Status: workerrpc.StatusOK,
		Result: workerrpc.Variant{Type: "STRING", Value: fmt.Sprintf("echo:%s", req.MethodName)},
	}, nil
}

const (
	fullMethodSetup = "/modelrunner.v1.WorkerService/Setup"
	fullMethodCall  = "/modelrunner.v1.WorkerService/Call"
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "modelrunner.v1.WorkerService",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Setup", Handler: setupHandler},
		{MethodName: "Call", Handler: callHandler},
	},
	Metadata: "workersim.proto",
}

func setupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req workerrpc.SetupRequest
	if err := dec(&req); err != nil {
		return nil, status.Errorf(codes.Internal, "decoding setup request: %v", err)
	}
	if interceptor == nil {
		return srv.(*simWorker).Setup(ctx, &req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethodSetup}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*simWorker).Setup(ctx, req.(*workerrpc.SetupRequest))
	}
	return interceptor(ctx, &req, info, handler)
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req workerrpc.CallRequest
	if err := dec(&req); err != nil {
		return nil, status.Errorf(codes.Internal, "decoding call request: %v", err)
	}
	if interceptor == nil {
		return srv.(*simWorker).Call(ctx, &req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethodCall}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*simWorker).Call(ctx, req.(*workerrpc.CallRequest))
	}
	return interceptor(ctx, &req, info, handler)
}
