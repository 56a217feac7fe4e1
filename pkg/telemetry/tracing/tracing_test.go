package tracing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mindwell/convomem/config"
	"github.com/mindwell/convomem/pkg/version"
)

var coachService = Service{
	Name:        "convomem",
	Environment: "staging",
	Build:       version.BuildInfo{Version: "v1.4.0", GitCommit: "abc123"},
}

func enabledConfig() config.TracingConfig {
	return config.TracingConfig{
		Enabled:    true,
		Exporter:   "otlpgrpc",
		Endpoint:   "http://otel-collector:4317/v1/traces",
		Timeout:    time.Second,
		Sampler:    "always_on",
		SampleRate: 1.0,
	}
}

func swapExporter(t *testing.T, exp sdktrace.SpanExporter) {
	t.Helper()
	prevFactory := newExporter
	prevProvider := otel.GetTracerProvider()
	newExporter = func(context.Context, config.TracingConfig) (sdktrace.SpanExporter, error) {
		return exp, nil
	}
	t.Cleanup(func() {
		newExporter = prevFactory
		otel.SetTracerProvider(prevProvider)
	})
}

type failingExporter struct {
	calls    atomic.Int32
	shutdown atomic.Bool
}

func (f *failingExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	f.calls.Add(1)
	return errors.New("collector unavailable")
}

func (f *failingExporter) Shutdown(context.Context) error {
	f.shutdown.Store(true)
	return nil
}

// keptExporter keeps recorded spans readable after provider shutdown.
type keptExporter struct{ *tracetest.InMemoryExporter }

func (keptExporter) Shutdown(context.Context) error { return nil }

type stuckExporter struct{}

func (stuckExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (stuckExporter) Shutdown(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestInit_DisabledSkipsExporter(t *testing.T) {
	called := false
	prev := newExporter
	t.Cleanup(func() { newExporter = prev })
	newExporter = func(context.Context, config.TracingConfig) (sdktrace.SpanExporter, error) {
		called = true
		return nil, nil
	}

	shutdown, err := Init(context.Background(), config.TracingConfig{}, coachService)
	require.NoError(t, err)
	assert.False(t, called)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_RejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.TracingConfig)
		want   string
	}{
		{"no exporter", func(c *config.TracingConfig) { c.Exporter = " " }, "exporter"},
		{"no endpoint", func(c *config.TracingConfig) { c.Endpoint = "" }, "endpoint"},
		{"no timeout", func(c *config.TracingConfig) { c.Timeout = 0 }, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabledConfig()
			tt.mutate(&cfg)
			_, err := Init(context.Background(), cfg, coachService)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInit_ExportsSessionSpansWithServiceResource(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	swapExporter(t, keptExporter{exp})

	shutdown, err := Init(context.Background(), enabledConfig(), coachService)
	require.NoError(t, err)

	_, span := otel.Tracer("convomem.coach").Start(context.Background(), "coach.Turn")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, shutdown(ctx))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "coach.Turn", spans[0].Name)

	attrs := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "convomem", attrs["service.name"])
	assert.Equal(t, "v1.4.0", attrs["service.version"])
	assert.Equal(t, "staging", attrs["deployment.environment.name"])
	assert.Equal(t, "abc123", attrs["vcs.ref.head.revision"])
}

func TestInit_CollectorOutageIsLoggedNotReturned(t *testing.T) {
	exp := &failingExporter{}
	swapExporter(t, exp)

	prevReport := reportExportFailure
	t.Cleanup(func() { reportExportFailure = prevReport })
	var reported atomic.Int32
	var endpoint atomic.Value
	reportExportFailure = func(err error, ep string, spans int) {
		reported.Add(1)
		endpoint.Store(ep)
	}

	shutdown, err := Init(context.Background(), enabledConfig(), coachService)
	require.NoError(t, err)

	_, span := otel.Tracer("convomem.coach").Start(context.Background(), "coach.EndSession")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, shutdown(ctx))

	assert.Positive(t, exp.calls.Load())
	assert.Positive(t, reported.Load())
	assert.Equal(t, "otel-collector:4317", endpoint.Load())
	assert.True(t, exp.shutdown.Load())
}

func TestShutdown_HonorsDeadline(t *testing.T) {
	swapExporter(t, stuckExporter{})

	cfg := enabledConfig()
	cfg.Timeout = 100 * time.Millisecond
	shutdown, err := Init(context.Background(), cfg, coachService)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.Error(t, shutdown(ctx))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSampler(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"always_on", "AlwaysOnSampler"},
		{"ALWAYS_OFF", "AlwaysOffSampler"},
		{"parentbased_traceidratio", "ParentBased"},
		{"", "ParentBased"},
	}
	for _, tt := range tests {
		got := sampler(config.TracingConfig{Sampler: tt.name, SampleRate: 0.25}).Description()
		assert.Contains(t, got, tt.want, "sampler %q", tt.name)
	}
}

func TestCollectorHost(t *testing.T) {
	tests := map[string]string{
		"otel-collector:4317":                   "otel-collector:4317",
		" http://otel-collector:4317/v1/traces": "otel-collector:4317",
		"https://collector.mindwell.internal":   "collector.mindwell.internal",
		"":                                      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, collectorHost(in), "collectorHost(%q)", in)
	}
}
