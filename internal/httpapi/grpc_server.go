package httpapi

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"acesso.org/internal/obs"
)

// ReadyChecker is the readiness probe contract shared by the HTTP and
// gRPC health surfaces.
type ReadyChecker interface {
	Check(ctx context.Context) error
}

// HealthServer exposes the readiness probe over the standard gRPC health
// protocol so orchestration layers can check the service without HTTP.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	readiness ReadyChecker
}

// NewHealthServer wraps the probe in a grpc_health_v1 service.
func NewHealthServer(rp ReadyChecker) *HealthServer {
	return &HealthServer{readiness: rp}
}

// Check evaluates readiness. A failed probe reports NOT_SERVING.
func (s *HealthServer) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &healthpb.HealthCheckResponse{
			Status: healthpb.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{
		Status: healthpb.HealthCheckResponse_SERVING,
	}, nil
}

// Watch is not supported; callers should poll Check.
func (s *HealthServer) Watch(_ *healthpb.HealthCheckRequest, _ healthpb.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watch is not supported")
}
