// Package tracing provides distributed tracing with OpenTelemetry OTLP
// export.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds tracing configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	EnableOTLP   bool
	OTLPEndpoint string

	// SampleRate is 0.0 to 1.0, where 1.0 samples everything.
	SampleRate float64
}

// DefaultConfig returns a Config with defaults and endpoint auto-detection
// from the environment.
func DefaultConfig(serviceName string) *Config {
	otlpEndpoint := getEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT",
		getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""))

	return &Config{
		ServiceName:    serviceName,
		ServiceVersion: getEnv("APP_VERSION", "dev"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		EnableOTLP:     otlpEndpoint != "",
		OTLPEndpoint:   otlpEndpoint,
		SampleRate:     1.0,
	}
}

var tracerProvider *sdktrace.TracerProvider

// Configure sets up tracing and installs the global tracer provider and
// propagators. It should be called once at application startup.
func Configure(cfg *Config) (trace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var spanProcessors []sdktrace.SpanProcessor
	if cfg.EnableOTLP {
		exporter, err := otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		spanProcessors = append(spanProcessors, sdktrace.NewBatchSpanProcessor(exporter))
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	for _, processor := range spanProcessors {
		tracerProvider.RegisterSpanProcessor(processor)
	}

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tracerProvider, nil
}

// Tracer returns a tracer for the given name.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Shutdown flushes any buffered spans and shuts down the tracer provider.
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		return tracerProvider.Shutdown(ctx)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
