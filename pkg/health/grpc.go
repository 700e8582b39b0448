package health

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCChecker queries the standard grpc.health.v1 service
type GRPCChecker struct {
	Address string
	Service string // empty checks the server as a whole
	Timeout time.Duration
}

// NewGRPCChecker creates a checker for the server at address
func NewGRPCChecker(address string) *GRPCChecker {
	return &GRPCChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// Check performs one Health/Check call
func (g *GRPCChecker) Check(ctx context.Context) Result {
	start := time.Now()

	conn, err := grpc.NewClient(g.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return finish(start, false, "failed to create client: %v", err)
	}
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: g.Service})
	if err != nil {
		return finish(start, false, "health rpc failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return finish(start, false, "status %s", resp.GetStatus())
	}
	return finish(start, true, "status %s", resp.GetStatus())
}

// Type returns the health check type
func (g *GRPCChecker) Type() CheckType {
	return CheckTypeGRPC
}

// Target returns the server address
func (g *GRPCChecker) Target() string {
	return g.Address
}
