// Package tracing installs the process-wide OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mindwell/convomem/config"
	"github.com/mindwell/convomem/pkg/logger"
	"github.com/mindwell/convomem/pkg/version"
)

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(ctx context.Context) error

// Service identifies this process on every exported span.
type Service struct {
	Name        string
	Environment string
	Build       version.BuildInfo
}

func (s Service) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(s.Name),
		semconv.ServiceVersion(s.Build.Version),
	}
	if s.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment.name", s.Environment))
	}
	if s.Build.GitCommit != "" && s.Build.GitCommit != "unknown" {
		attrs = append(attrs, attribute.String("vcs.ref.head.revision", s.Build.GitCommit))
	}
	return attrs
}

// reportExportFailure is swapped in tests.
var reportExportFailure = func(err error, endpoint string, spans int) {
	logger.Warn("span export failed",
		"error", err,
		"endpoint", endpoint,
		"span_count", spans,
	)
}

// newExporter is swapped in tests.
var newExporter = func(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(collectorHost(cfg.Endpoint)),
		otlptracegrpc.WithTimeout(cfg.Timeout),
		otlptracegrpc.WithInsecure(),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// quietExporter logs delivery failures and reports success to the batcher so
// a down collector never surfaces as a request error.
type quietExporter struct {
	sdktrace.SpanExporter
	endpoint string
}

func (e quietExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if err := e.SpanExporter.ExportSpans(ctx, spans); err != nil {
		reportExportFailure(err, e.endpoint, len(spans))
	}
	return nil
}

// Init installs the tracer provider and W3C propagators. With tracing
// disabled a noop provider is installed and the returned shutdown is a no-op.
func Init(ctx context.Context, cfg config.TracingConfig, svc Service) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(svc.attributes()...))
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(quietExporter{SpanExporter: exp, endpoint: collectorHost(cfg.Endpoint)}),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg)),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		var errs []error
		if err := tp.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush spans: %w", err))
		}
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
		return errors.Join(errs...)
	}, nil
}

func checkConfig(cfg config.TracingConfig) error {
	switch {
	case strings.TrimSpace(cfg.Exporter) == "":
		return errors.New("tracing exporter cannot be empty")
	case collectorHost(cfg.Endpoint) == "":
		return errors.New("tracing endpoint cannot be empty")
	case cfg.Timeout <= 0:
		return errors.New("tracing timeout must be > 0")
	}
	return nil
}

func sampler(cfg config.TracingConfig) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
}

// collectorHost strips a scheme and path so "http://otel:4317/v1/traces"
// becomes "otel:4317", which is what the gRPC exporter dials.
func collectorHost(endpoint string) string {
	raw := strings.TrimSpace(endpoint)
	if !strings.Contains(raw, "://") {
		return raw
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}
