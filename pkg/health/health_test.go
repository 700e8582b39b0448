package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/fleetd/pkg/system"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestFromSpec(t *testing.T) {
	runner := system.NewFakeRunner()

	tests := []struct {
		spec     types.CheckSpec
		wantType CheckType
		wantErr  bool
	}{
		{types.CheckSpec{Type: "http", Target: "http://localhost/health"}, CheckTypeHTTP, false},
		{types.CheckSpec{Type: "TCP", Target: "127.0.0.1:3306"}, CheckTypeTCP, false},
		{types.CheckSpec{Type: "exec", Target: "mysqladmin ping"}, CheckTypeExec, false},
		{types.CheckSpec{Type: "grpc", Target: "127.0.0.1:9000"}, CheckTypeGRPC, false},
		{types.CheckSpec{Type: "smtp", Target: "x"}, "", true},
		{types.CheckSpec{Type: "tcp"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec.Type+" "+tt.spec.Target, func(t *testing.T) {
			checker, err := FromSpec(tt.spec, runner)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsConfiguration(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, checker.Type())
			assert.Equal(t, tt.spec.Target, checker.Target())
		})
	}
}

func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	result := NewTCPChecker(addr).Check(context.Background())
	assert.True(t, result.Healthy, result.Message)

	checker := NewTCPChecker("tcp://" + addr)
	assert.Equal(t, addr, checker.Target())
	assert.True(t, checker.Check(context.Background()).Healthy)

	ln.Close()
	result = NewTCPChecker(addr).Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestExecChecker(t *testing.T) {
	runner := system.NewFakeRunner()
	runner.On("mysqladmin ping", system.Result{Stdout: "mysqld is alive\n"})
	runner.On("false", system.Result{ExitCode: 1, Stderr: "nope"})

	result := NewExecChecker(runner, []string{"mysqladmin", "ping"}).Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Contains(t, result.Message, "mysqld is alive")

	result = NewExecChecker(runner, []string{"false"}).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "exit status 1")

	result = NewExecChecker(runner, nil).Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestGRPCChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(ln) }()
	defer srv.Stop()

	checker := NewGRPCChecker(ln.Addr().String())

	result := checker.Check(context.Background())
	assert.True(t, result.Healthy, result.Message)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	result = checker.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "NOT_SERVING")
}

// flaky reports unhealthy until it has been called n times
type flaky struct {
	n, calls int
}

func (f *flaky) Check(ctx context.Context) Result {
	f.calls++
	return Result{Healthy: f.calls >= f.n, Message: "flaky"}
}
func (f *flaky) Type() CheckType { return "flaky" }
func (f *flaky) Target() string  { return "test" }

func TestWaitRetriesUntilHealthy(t *testing.T) {
	f := &flaky{n: 3}
	result := Wait(context.Background(), f, Config{Interval: time.Millisecond, Timeout: time.Second})
	assert.True(t, result.Healthy)
	assert.Equal(t, 3, f.calls)
}

func TestValidateGivesUp(t *testing.T) {
	f := &flaky{n: 1 << 30}
	err := Validate(context.Background(), f, Config{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
	assert.Contains(t, err.Error(), "flaky test")
}
