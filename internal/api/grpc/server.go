// Package grpcapi exposes the relay's gRPC surface: the standard health
// service, so orchestrators can probe the relay, and server reflection for
// grpcurl.
package grpcapi

import (
	"net"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"call-transcript-relay/internal/observability"
	"call-transcript-relay/internal/observability/logging"
	"call-transcript-relay/internal/observability/metrics"
)

// ServiceName is the health-checked service name of the relay.
const ServiceName = "call.transcript.relay.v1.TranscriptRelay"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// New builds a gRPC server with health and reflection registered. Both the
// overall and the relay service status start as NOT_SERVING.
func New(m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	reflection.Register(g)

	s := &Server{grpc: g, health: hs, logger: logging.WithComponent("grpc")}
	s.SetServing(false)
	return s
}

// SetServing flips the reported health status.
func (s *Server) SetServing(serving bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Serve marks the relay SERVING and blocks serving lis.
func (s *Server) Serve(lis net.Listener) error {
	s.SetServing(true)
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server started")
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "grpc serve")
	}
	return nil
}

// Shutdown reports NOT_SERVING, then drains in-flight RPCs.
func (s *Server) Shutdown() {
	s.logger.Info().Msg("Shutting down gRPC server")
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
