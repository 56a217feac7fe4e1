package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mindwell/convomem/pkg/logger"
)

// Health probes are polled constantly and logged at debug level only.
const healthMethodPrefix = "/grpc.health.v1.Health/"

// LoggingUnaryInterceptor logs each unary RPC once it completes.
func LoggingUnaryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logRPC(ctx, log, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// LoggingStreamInterceptor logs each stream once it ends.
func LoggingStreamInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logRPC(ss.Context(), log, info.FullMethod, "stream", start, err)
		return err
	}
}

func logRPC(ctx context.Context, log logger.Logger, method, kind string, start time.Time, err error) {
	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		requestID = "unknown"
	}
	code := codes.OK
	if err != nil {
		code = status.Code(err)
	}

	args := []any{
		"method", method,
		"kind", kind,
		"code", code.String(),
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	}
	switch {
	case err != nil && code != codes.Canceled:
		log.WarnContext(ctx, "gRPC request failed", append(args, "error", err)...)
	case len(method) > len(healthMethodPrefix) && method[:len(healthMethodPrefix)] == healthMethodPrefix:
		log.DebugContext(ctx, "gRPC request", args...)
	default:
		log.InfoContext(ctx, "gRPC request", args...)
	}
}
