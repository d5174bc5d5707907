// Package health exposes the backend's readiness over the standard gRPC
// health checking protocol.
package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/ashureev/ttakmal/internal/metrics"
)

// ServiceName is the service reported by the health server.
const ServiceName = "ttakmal.chat"

// DefaultCheckInterval is how often Watch pings the checker.
const DefaultCheckInterval = 15 * time.Second

// Checker reports whether a dependency is reachable.
type Checker interface {
	Ping(ctx context.Context) error
}

// Server is a gRPC server carrying only the health service.
type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	checker Checker
	logger  *slog.Logger
}

// NewServer creates the server with logging and metrics on every unary call.
func NewServer(checker Checker, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(
		grpc.UnaryInterceptor(UnaryInterceptor(m, logger)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              2 * time.Minute,
			Timeout:           10 * time.Second,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{grpc: gs, health: hs, checker: checker, logger: logger}
	s.SetServing(true)
	return s
}

// SetServing flips the status of ServiceName and of the server as a whole.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Watch pings the checker every interval and updates the serving status
// until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	if s.checker == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		healthy := true
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, interval)
				err := s.checker.Ping(pingCtx)
				cancel()
				if ok := err == nil; ok != healthy {
					healthy = ok
					s.SetServing(ok)
					if ok {
						s.logger.Info("Health restored", "service", ServiceName)
					} else {
						s.logger.Warn("Health check failed", "service", ServiceName, "error", err)
					}
				}
			}
		}
	}()
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop marks the service as not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// UnaryInterceptor records metrics and logs each unary call.
func UnaryInterceptor(m *metrics.Metrics, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		code := status.Code(err).String()
		m.RecordGrpcRequest(info.FullMethod, code, duration)
		logger.Debug("gRPC request", "method", info.FullMethod, "code", code, "duration", duration)
		return resp, err
	}
}
