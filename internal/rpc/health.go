package rpc

import (
	"Go2NetStats/internal/engine/manager"
	"net"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the stats manager.
const ServiceName = "ofstats.StatsManager"

// Server is a gRPC server exposing the standard health service. The health of
// ServiceName follows the lifecycle of the stats manager.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer creates a server whose stats manager service starts as NOT_SERVING.
func NewServer(opts ...grpc.ServerOption) *Server {
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetState updates the reported health from a manager state. It matches
// manager.Options.OnStateChange.
func (s *Server) SetState(state manager.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == manager.Running {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	log.Printf("gRPC health server starting on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// Stop marks every service as NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
