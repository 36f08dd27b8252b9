package workerrpc_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/crunchdao/model-runner-orchestrator/internal/workerrpc"
	"github.com/crunchdao/model-runner-orchestrator/internal/workerrpc/workerrpctest"
)

func dial(t *testing.T, srv *workerrpctest.Server) *workerrpc.Client {
	t.Helper()
	conn, err := grpc.NewClient(fmt.Sprintf("%s:%d", srv.Host, srv.Port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return workerrpc.NewClient(conn)
}

func TestSetupRoundTrip(t *testing.T) {
	srv := workerrpctest.NewServer(t)
	srv.SetupFunc = func(ctx context.Context, req *workerrpc.SetupRequest) (*workerrpc.SetupResponse, error) {
		assert.Equal(t, "MyModel", req.ClassName)
		return &workerrpc.SetupResponse{Status: workerrpc.StatusOK}, nil
	}

	client := dial(t, srv)
	resp, err := client.Setup(context.Background(), workerrpc.SetupRequest{ClassName: "MyModel"})
	require.NoError(t, err)
	assert.Equal(t, workerrpc.StatusOK, resp.Status)
}

func TestCallRoundTrip(t *testing.T) {
	srv := workerrpctest.NewServer(t)
	srv.CallFunc = func(ctx context.Context, req *workerrpc.CallRequest) (*workerrpc.CallResponse, error) {
		assert.Equal(t, "predict", req.MethodName)
		return &workerrpc.CallResponse{Status: workerrpc.StatusOK, Result: workerrpc.Variant{Type: "STRING", Value: "42"}}, nil
	}

	client := dial(t, srv)
	resp, err := client.Call(context.Background(), workerrpc.CallRequest{MethodName: "predict"})
	require.NoError(t, err)
	assert.Equal(t, workerrpc.StatusOK, resp.Status)
	assert.Equal(t, "42", resp.Result.Value)
}

func TestHealthReportsServingStatus(t *testing.T) {
	srv := workerrpctest.NewServer(t)
	srv.SetServing(healthpb.HealthCheckResponse_SERVING)

	client := dial(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)
}
