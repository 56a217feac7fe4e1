package interceptors

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/mindwell/convomem/pkg/logger"
)

type testServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (t *testServerStream) Context() context.Context { return t.ctx }

func TestRecoveryUnaryInterceptor_Panic(t *testing.T) {
	interceptor := RecoveryUnaryInterceptor(logger.Nop())
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", status.Code(err))
	}
}

func TestRecoveryStreamInterceptor_Panic(t *testing.T) {
	interceptor := RecoveryStreamInterceptor(logger.Nop())
	stream := &testServerStream{ctx: context.Background()}
	err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: "/svc/stream"}, func(srv any, ss grpc.ServerStream) error {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", status.Code(err))
	}
}

func TestRequestIDUnaryInterceptor_Generates(t *testing.T) {
	interceptor := RequestIDUnaryInterceptor()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.MD{})
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		if id, ok := RequestIDFromContext(ctx); !ok || id == "" {
			t.Fatal("request id not set in context")
		}
		md, ok := metadata.FromOutgoingContext(ctx)
		if !ok || len(md.Get(RequestIDKey)) == 0 {
			t.Fatal("request id not in outgoing metadata")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestIDUnaryInterceptor_Propagates(t *testing.T) {
	interceptor := RequestIDUnaryInterceptor()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDKey, "req-42"))
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		if id, _ := RequestIDFromContext(ctx); id != "req-42" {
			t.Fatalf("request id = %q, want req-42", id)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestIDStreamInterceptor_WrapsContext(t *testing.T) {
	interceptor := RequestIDStreamInterceptor()
	stream := &testServerStream{ctx: metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDKey, "req-7"))}
	err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: "/svc/stream"}, func(srv any, ss grpc.ServerStream) error {
		if id, _ := RequestIDFromContext(ss.Context()); id != "req-7" {
			return errors.New("request id not propagated")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoggingUnaryInterceptor(t *testing.T) {
	interceptor := LoggingUnaryInterceptor(logger.Nop())
	resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	if err != nil || resp != "ok" {
		t.Fatalf("got (%v, %v), want (ok, nil)", resp, err)
	}

	wantErr := status.Error(codes.NotFound, "missing")
	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/m"}, func(ctx context.Context, req any) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
}

func TestDefaultChain_Build(t *testing.T) {
	if got := len(NewChainBuilder().Build()); got != 0 {
		t.Fatalf("empty chain options = %d, want 0", got)
	}
	if got := len(DefaultChain(logger.Nop(), true).Build()); got != 2 {
		t.Fatalf("default chain options = %d, want 2", got)
	}
}

func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	prevProvider := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevProp)
	})
	return recorder
}

func incomingWithParent(parent trace.SpanContext, pairs ...string) context.Context {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(trace.ContextWithSpanContext(context.Background(), parent), carrier)
	md := metadata.New(map[string]string(carrier))
	for i := 0; i+1 < len(pairs); i += 2 {
		md.Append(pairs[i], pairs[i+1])
	}
	return metadata.NewIncomingContext(context.Background(), md)
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (string, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestTracingUnaryInterceptor_JoinsCallerTraceAndTagsSession(t *testing.T) {
	recorder := useRecorder(t)

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := incomingWithParent(parent, SessionIDKey, "sess-ada", RequestIDKey, "req-turn-1")

	var handlerTrace trace.TraceID
	_, err := RequestIDUnaryInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/convomem.v1.Coach/Turn"},
		func(ctx context.Context, req any) (any, error) {
			return TracingUnaryInterceptor()(ctx, req, &grpc.UnaryServerInfo{FullMethod: "/convomem.v1.Coach/Turn"},
				func(ctx context.Context, req any) (any, error) {
					handlerTrace = trace.SpanContextFromContext(ctx).TraceID()
					return nil, nil
				})
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "convomem.v1.Coach/Turn" {
		t.Fatalf("span name = %q", span.Name())
	}
	if span.Parent().SpanID() != parent.SpanID() || handlerTrace != parent.TraceID() {
		t.Fatal("span did not join the caller trace")
	}
	want := map[string]string{
		"rpc.service":    "convomem.v1.Coach",
		"rpc.method":     "Turn",
		"session.id":     "sess-ada",
		"rpc.request_id": "req-turn-1",
	}
	for key, val := range want {
		if got, ok := spanAttr(span, key); !ok || got != val {
			t.Fatalf("attribute %s = %q (present %v), want %q", key, got, ok, val)
		}
	}
	if span.Status().Code != otelcodes.Ok {
		t.Fatalf("status = %v, want Ok", span.Status().Code)
	}
}

func TestTracingUnaryInterceptor_RecordsStatusCode(t *testing.T) {
	recorder := useRecorder(t)

	ended := status.Error(codes.FailedPrecondition, "session ended")
	_, err := TracingUnaryInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/convomem.v1.Coach/Turn"},
		func(ctx context.Context, req any) (any, error) {
			return nil, ended
		})
	if !errors.Is(err, ended) {
		t.Fatalf("err = %v, want %v", err, ended)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status().Code != otelcodes.Error {
		t.Fatalf("status = %v, want Error", spans[0].Status().Code)
	}
	if got, _ := spanAttr(spans[0], "rpc.grpc.status_code"); got != "9" {
		t.Fatalf("rpc.grpc.status_code = %q, want 9", got)
	}
	if _, ok := spanAttr(spans[0], "session.id"); ok {
		t.Fatal("session.id set without metadata")
	}
}

func TestTracingStreamInterceptor_CoversStream(t *testing.T) {
	recorder := useRecorder(t)

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{9, 8, 7, 6, 5, 4, 3, 2, 1, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{8, 7, 6, 5, 4, 3, 2, 1},
		TraceFlags: trace.FlagsSampled,
	})
	stream := &testServerStream{ctx: incomingWithParent(parent, SessionIDKey, "sess-grace")}

	err := TracingStreamInterceptor()(nil, stream, &grpc.StreamServerInfo{FullMethod: "/convomem.v1.Coach/WatchEvents"},
		func(srv any, ss grpc.ServerStream) error {
			if trace.SpanContextFromContext(ss.Context()).TraceID() != parent.TraceID() {
				return errors.New("stream context not traced")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "convomem.v1.Coach/WatchEvents" {
		t.Fatalf("unexpected spans: %d", len(spans))
	}
	if got, _ := spanAttr(spans[0], "session.id"); got != "sess-grace" {
		t.Fatalf("session.id = %q", got)
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in            string
		service, meth string
	}{
		{"/convomem.v1.Coach/Turn", "convomem.v1.Coach", "Turn"},
		{"convomem.v1.Coach/EndSession", "convomem.v1.Coach", "EndSession"},
		{"/convomem.v1.Coach", "convomem.v1.Coach", "unknown"},
		{"", "unknown", "unknown"},
	}
	for _, tt := range tests {
		service, meth := splitMethod(tt.in)
		if service != tt.service || meth != tt.meth {
			t.Errorf("splitMethod(%q) = (%q, %q), want (%q, %q)", tt.in, service, meth, tt.service, tt.meth)
		}
	}
}
