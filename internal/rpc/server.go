package rpc

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	loggerpkg "github.com/lechuhuuha/event_relay/logger"
)

// Server hosts the ingestion service and the standard health service.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     loggerpkg.Logger
}

// NewServer registers srv behind the recovery and access-log interceptors.
func NewServer(srv IngestionServer, logger loggerpkg.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = loggerpkg.NewNop()
	}
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			Recovery(logger),
			AccessLog(logger),
		),
	}, opts...)
	grpcServer := grpc.NewServer(opts...)
	RegisterIngestionServer(grpcServer, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)

	return &Server{grpcServer: grpcServer, health: hs, logger: logger}
}

// Serve marks the service SERVING and blocks until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.logger.Info("grpc server listening", loggerpkg.F("addr", lis.Addr().String()))
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown reports NOT_SERVING, then waits for running calls to finish.
// When ctx ends first the remaining calls are cut off.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.logger.Warn("forcing grpc server shutdown")
		s.grpcServer.Stop()
		<-stopped
	case <-stopped:
		s.logger.Info("grpc server stopped gracefully")
	}
}
