// Package metrics provides an OTLP meter provider and the control plane's
// lifecycle counters. Without an OTLP endpoint configured the global meter
// provider stays a no-op and every counter add is free.
package metrics

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config holds metrics configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	EnableOTLP     bool
	OTLPEndpoint   string
	ExportInterval time.Duration
}

// DefaultConfig returns a Config with defaults and endpoint auto-detection
// from the environment.
func DefaultConfig(serviceName string) *Config {
	otlpEndpoint := getEnv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT",
		getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""))

	return &Config{
		ServiceName:    serviceName,
		ServiceVersion: getEnv("APP_VERSION", "dev"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		EnableOTLP:     otlpEndpoint != "",
		OTLPEndpoint:   otlpEndpoint,
		ExportInterval: 60 * time.Second,
	}
}

var meterProvider *sdkmetric.MeterProvider

// Configure sets up the global meter provider. It should be called once at
// application startup; without an OTLP endpoint it leaves the no-op default
// in place.
func Configure(cfg *Config) error {
	if !cfg.EnableOTLP {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(cfg.ExportInterval),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	return nil
}

// Meter returns a named meter from the global meter provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Shutdown flushes pending metrics and shuts down the meter provider.
func Shutdown(ctx context.Context) error {
	if meterProvider != nil {
		return meterProvider.Shutdown(ctx)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
