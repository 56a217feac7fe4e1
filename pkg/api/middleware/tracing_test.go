package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// turnRouter mounts a turn endpoint that answers with status.
func turnRouter(status int) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID())
	r.Use(Tracing(DefaultTracingOptions()))
	r.Post("/api/v1/sessions/{sessionID}/turns", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
	return r
}

func TestTracing_JoinsCallerTrace(t *testing.T) {
	agent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0xa, 0xb, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		SpanID:     trace.SpanID{2, 2, 2, 2, 2, 2, 2, 2},
		TraceFlags: trace.FlagsSampled,
	})
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(trace.ContextWithSpanContext(context.Background(), agent), carrier)

	tests := []struct {
		name        string
		traceparent bool
	}{
		{name: "agent sends traceparent", traceparent: true},
		{name: "no traceparent starts a root span"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := setTracingTestProvider(t)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-ada/turns", nil)
			if tt.traceparent {
				for k, v := range carrier {
					req.Header.Set(k, v)
				}
			}
			turnRouter(http.StatusOK).ServeHTTP(httptest.NewRecorder(), req)

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			parent := spans[0].Parent()
			if tt.traceparent && parent.TraceID() != agent.TraceID() {
				t.Fatalf("trace id = %s, want %s", parent.TraceID(), agent.TraceID())
			}
			if !tt.traceparent && parent.IsValid() {
				t.Fatal("expected a root span")
			}
		})
	}
}

func TestTracing_TurnOutcomeSetsSpanStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   otelcodes.Code
	}{
		{name: "turn recorded", status: http.StatusOK, want: otelcodes.Ok},
		{name: "session ended", status: http.StatusConflict, want: otelcodes.Error},
		{name: "invalid turn", status: http.StatusBadRequest, want: otelcodes.Error},
		{name: "storage down", status: http.StatusInternalServerError, want: otelcodes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := setTracingTestProvider(t)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-ada/turns", nil)
			turnRouter(tt.status).ServeHTTP(httptest.NewRecorder(), req)

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if got := spans[0].Status().Code; got != tt.want {
				t.Fatalf("span status = %v, want %v", got, tt.want)
			}
			if !hasIntAttribute(spans[0].Attributes(), "http.response.status_code", int64(tt.status)) {
				t.Fatalf("missing http.response.status_code=%d", tt.status)
			}
		})
	}
}

func TestTracing_NamesSpanAfterRouteAndTagsSession(t *testing.T) {
	recorder := setTracingTestProvider(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s-42/turns", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	turnRouter(http.StatusOK).ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if got, want := span.Name(), "HTTP POST /api/v1/sessions/{sessionID}/turns"; got != want {
		t.Errorf("span name = %q, want %q", got, want)
	}
	for key, want := range map[string]string{
		"session.id":      "s-42",
		"http.request_id": "req-7",
		"http.route":      "/api/v1/sessions/{sessionID}/turns",
	} {
		if !hasStringAttribute(span.Attributes(), key, want) {
			t.Errorf("missing %s=%s in %v", key, want, span.Attributes())
		}
	}
}

func TestTracing_SkipsHealthMetricsAndEventStream(t *testing.T) {
	recorder := setTracingTestProvider(t)

	handler := Tracing(DefaultTracingOptions())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for _, path := range []string{"/health", "/ready", "/metrics", "/ws/events"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if spans := recorder.Ended(); len(spans) != 0 {
		t.Fatalf("expected no spans, got %d", len(spans))
	}
}

func hasStringAttribute(attrs []attribute.KeyValue, key, want string) bool {
	for _, attr := range attrs {
		if string(attr.Key) == key && attr.Value.AsString() == want {
			return true
		}
	}
	return false
}

func hasIntAttribute(attrs []attribute.KeyValue, key string, want int64) bool {
	for _, attr := range attrs {
		if string(attr.Key) == key && attr.Value.AsInt64() == want {
			return true
		}
	}
	return false
}

func setTracingTestProvider(t *testing.T) *tracetest.SpanRecorder {
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
