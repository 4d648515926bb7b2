// Package telemetry reports merge outcomes to the gitfolio server and sets
// up optional OpenTelemetry tracing for the merge pipeline.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "gitfolio-cli/internal/telemetry"

// TracingConfig configures OpenTelemetry tracing setup.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	SampleRatio float64
}

// TracingRuntime contains the initialized tracer provider and its shutdown
// hook.
type TracingRuntime struct {
	TracerProvider *sdktrace.TracerProvider
	Shutdown       func(ctx context.Context) error
}

// SetupTracing initializes global tracing. With Enabled false the provider
// never samples, so span creation stays a cheap no-op throughout the CLI.
func SetupTracing(cfg TracingConfig) (TracingRuntime, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "gitfolio-cli"
	}

	sampler := sdktrace.NeverSample()
	if cfg.Enabled {
		ratio := cfg.SampleRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 1
		}
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}

	resourceConfig, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return TracingRuntime{}, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(resourceConfig),
	)
	otel.SetTracerProvider(provider)

	return TracingRuntime{
		TracerProvider: provider,
		Shutdown:       provider.Shutdown,
	}, nil
}

// StartSpan opens a span for one merge pipeline stage.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name)
}
