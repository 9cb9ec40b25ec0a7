package server

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// LendingService is the grpc.health.v1 service name reported next to the
// overall ("") status.
const LendingService = "lendcore.Lending"

// HealthServer is the daemon's gRPC grpc.health.v1 endpoint.
type HealthServer struct {
	*grpc.Server
	health *health.Server
}

// NewHealthServer builds the endpoint. It starts NOT_SERVING until
// SetServing(true) is called.
func NewHealthServer(tlsCfg *tls.Config, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "grpc")
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor(), unaryGuard(logger)),
		grpc.ChainStreamInterceptor(otelgrpc.StreamServerInterceptor(), streamGuard(logger)),
	}
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	h := &HealthServer{Server: grpc.NewServer(opts...), health: health.NewServer()}
	healthpb.RegisterHealthServer(h.Server, h.health)
	h.SetServing(false)
	return h
}

// SetServing reports the lending service and the server as a whole.
func (h *HealthServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	for _, name := range []string{"", LendingService} {
		h.health.SetServingStatus(name, st)
	}
}

// Shutdown flips every status to NOT_SERVING and drains in-flight calls.
func (h *HealthServer) Shutdown() {
	h.health.Shutdown()
	h.GracefulStop()
}

func unaryGuard(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = panicStatus(logger, info.FullMethod, r)
			}
			logger.Debug("grpc call", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
		}()
		return handler(ctx, req)
	}
}

func streamGuard(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = panicStatus(logger, info.FullMethod, r)
			}
		}()
		return handler(srv, ss)
	}
}

func panicStatus(logger *slog.Logger, method string, r interface{}) error {
	logger.Error("grpc handler panic", "method", method, "panic", r)
	return status.Error(codes.Internal, "internal server error")
}
