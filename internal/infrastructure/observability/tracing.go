// Package observability configures the OpenTelemetry trace pipeline.
package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TracingConfig configures the tracer provider.
type TracingConfig struct {
	// ServiceName reported on every span
	ServiceName string
	// ServiceVersion reported on every span
	ServiceVersion string
	// Environment (development, staging, production)
	Environment string
	// Endpoint of the OTLP/HTTP collector. Accepts host:port or a full URL.
	// Empty disables export; spans still carry ids for log correlation.
	Endpoint string
	// SampleRatio of traces to record, parent decision wins. Zero means 1.0.
	SampleRatio float64
}

// SetupTracing installs the global tracer provider and propagators. The
// returned function flushes and shuts the pipeline down.
func SetupTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1.0
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}

	if cfg.Endpoint != "" {
		exporter, err := newExporter(ctx, cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown, nil
}

// newExporter creates the OTLP/HTTP exporter. A bare host:port endpoint is
// dialed without TLS; a URL endpoint follows its scheme.
func newExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	var exporterOpts []otlptracehttp.Option
	if strings.Contains(endpoint, "://") {
		exporterOpts = append(exporterOpts, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		exporterOpts = append(exporterOpts,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	}

	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP trace exporter: %w", err)
	}
	return exporter, nil
}
