package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/mindwell/convomem/pkg/grpc/interceptors"
	"github.com/mindwell/convomem/pkg/logger"
	"github.com/mindwell/convomem/pkg/readiness"
)

func TestServer_TracesReadinessCheck(t *testing.T) {
	recorder := installRecorder(t)
	srv := startTracedServer(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx,
		interceptors.RequestIDKey, "req-ready-1",
		interceptors.SessionIDKey, "sess-ada",
	)

	resp, err := healthClient(t, srv).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "storage"})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	var span sdktrace.ReadOnlySpan
	require.Eventually(t, func() bool {
		for _, s := range recorder.Ended() {
			if s.Name() == "grpc.health.v1.Health/Check" {
				span = s
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	attrs := map[string]string{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "req-ready-1", attrs["rpc.request_id"])
	assert.Equal(t, "sess-ada", attrs["session.id"])
	assert.Equal(t, "0", attrs["rpc.grpc.status_code"])
}

func TestServer_NoSpansWhenTracingDisabled(t *testing.T) {
	recorder := installRecorder(t)
	srv := startTracedServer(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := healthClient(t, srv).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, recorder.Ended())
}

func startTracedServer(t *testing.T, tracing bool) *Server {
	t.Helper()

	checker := readiness.New(0)
	checker.Add("storage", func(context.Context) error { return nil })

	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.EnableTracing = tracing
	cfg.EnableHealthCheck = true

	srv, err := New(cfg, WithLogger(logger.Nop()), WithReadiness(checker))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func healthClient(t *testing.T, srv *Server) grpc_health_v1.HealthClient {
	t.Helper()
	conn, err := ggrpc.NewClient(srv.Address(), ggrpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return grpc_health_v1.NewHealthClient(conn)
}

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})
	return recorder
}
