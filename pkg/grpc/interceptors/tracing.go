package interceptors

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const grpcTracerName = "convomem.grpc"

// SessionIDKey is the metadata key callers use to tie an RPC to a coaching
// session.
const SessionIDKey = "x-session-id"

// TracingUnaryInterceptor opens a server span per unary RPC.
func TracingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, span := startRPCSpan(ctx, info.FullMethod)
		defer span.End()

		resp, err := handler(ctx, req)
		endRPCSpan(span, err)
		return resp, err
	}
}

// TracingStreamInterceptor opens a server span per stream. The span covers
// the whole stream lifetime.
func TracingStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, span := startRPCSpan(ss.Context(), info.FullMethod)
		defer span.End()

		err := handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
		endRPCSpan(span, err)
		return err
	}
}

func startRPCSpan(ctx context.Context, fullMethod string) (context.Context, trace.Span) {
	md, _ := metadata.FromIncomingContext(ctx)
	ctx = otel.GetTextMapPropagator().Extract(ctx, metadataCarrier(md))

	service, method := splitMethod(fullMethod)
	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
	}
	if id, ok := RequestIDFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("rpc.request_id", id))
	}
	if ids := md.Get(SessionIDKey); len(ids) > 0 && ids[0] != "" {
		attrs = append(attrs, attribute.String("session.id", ids[0]))
	}

	return otel.Tracer(grpcTracerName).Start(ctx, service+"/"+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
}

func endRPCSpan(span trace.Span, err error) {
	code := status.Code(err)
	span.SetAttributes(attribute.Int("rpc.grpc.status_code", int(code)))
	if err == nil {
		span.SetStatus(otelcodes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, code.String())
}

func splitMethod(fullMethod string) (string, string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	service, method, ok := strings.Cut(fullMethod, "/")
	if !ok || method == "" {
		return service, "unknown"
	}
	return service, method
}

// metadataCarrier adapts incoming gRPC metadata to the OTel propagator.
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	values := metadata.MD(c).Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (c metadataCarrier) Set(key string, value string) {
	metadata.MD(c).Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = metadataCarrier{}
