package grpcserver

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	llmqv1 "github.com/rzbill/llmq/api/llmq/v1"
	"github.com/rzbill/llmq/internal/runtime"
	"github.com/rzbill/llmq/pkg/log"
)

// healthCheckInterval is how often the store is checked to refresh the
// gRPC health status.
const healthCheckInterval = 5 * time.Second

// shutdownGrace bounds how long Close waits for in-flight calls.
const shutdownGrace = 2 * time.Second

// Server owns the gRPC server instance and runtime.
type Server struct {
	rt     *runtime.Runtime
	grpc   *grpc.Server
	health *health.Server
	logger log.Logger
}

// New constructs a gRPC server and registers the Broker and Health services.
func New(rt *runtime.Runtime, opts ...grpc.ServerOption) *Server {
	logger := rt.Logger().WithComponent("grpc")
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
	}, opts...)
	s := &Server{
		rt:     rt,
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		logger: logger,
	}
	llmqv1.RegisterBrokerServer(s.grpc, &brokerSvc{b: rt.Broker(), logger: logger})
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(llmqv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// GRPC exposes the underlying server, e.g. to serve on a custom listener.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("grpc listening", log.Str("addr", l.Addr().String()))
	go s.watchHealth(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

// watchHealth keeps the health status in line with the runtime.
func (s *Server) watchHealth(ctx context.Context) {
	t := time.NewTicker(healthCheckInterval)
	defer t.Stop()
	for {
		st := healthpb.HealthCheckResponse_SERVING
		if err := s.rt.CheckHealth(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("health check failed", log.Err(err))
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus("", st)
		s.health.SetServingStatus(llmqv1.ServiceName, st)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Close marks the server not serving and stops it. Streams still open after
// shutdownGrace, such as idle consumers, are cut.
func (s *Server) Close() {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.grpc.Stop()
		<-done
	}
}

func loggingInterceptor(logger log.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Debug("rpc failed", log.Str("method", info.FullMethod), log.Dur("elapsed", time.Since(start)), log.Err(err))
		}
		return resp, err
	}
}
