package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"gatekeepr.org/internal/obs"
)

const serviceName = "gatekeepr"

// GRPCServer exposes readiness over the standard grpc.health.v1 protocol.
// The empty service name and "gatekeepr" both report the API's readiness.
type GRPCServer struct {
	healthpb.UnimplementedHealthServer

	readiness readinessChecker
	interval  time.Duration
}

// NewGRPCServer creates the health service. Watch streams re-check readiness every interval.
func NewGRPCServer(r readinessChecker, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &GRPCServer{readiness: r, interval: interval}
}

// Register installs the health service on g.
func (s *GRPCServer) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s)
}

func (s *GRPCServer) status(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if s.readiness == nil {
		return healthpb.HealthCheckResponse_SERVING
	}
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Warn(ctx, "grpc_health_not_ready", "error", err.Error())
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(true)
	return healthpb.HealthCheckResponse_SERVING
}

func knownService(name string) bool {
	return name == "" || name == serviceName
}

// Check reports SERVING or NOT_SERVING; unknown services get NotFound.
func (s *GRPCServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if !knownService(req.GetService()) {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	return &healthpb.HealthCheckResponse{Status: s.status(ctx)}, nil
}

// Watch sends the current status and then every change until the client goes away.
func (s *GRPCServer) Watch(req *healthpb.HealthCheckRequest, stream healthpb.Health_WatchServer) error {
	ctx := stream.Context()
	if !knownService(req.GetService()) {
		return stream.Send(&healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVICE_UNKNOWN})
	}
	last := s.status(ctx)
	if err := stream.Send(&healthpb.HealthCheckResponse{Status: last}); err != nil {
		return err
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur := s.status(ctx)
			if cur == last {
				continue
			}
			last = cur
			if err := stream.Send(&healthpb.HealthCheckResponse{Status: cur}); err != nil {
				return err
			}
		}
	}
}
