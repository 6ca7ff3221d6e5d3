// Package logging provides structured logging with console and OTLP export.
// Configuration is auto-detected from the standard OTEL environment
// variables.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config holds logging configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Level slog.Level

	EnableConsole bool
	ConsoleWriter io.Writer
	JSONFormat    bool // text format when false, for development

	EnableOTLP   bool
	OTLPEndpoint string
}

// DefaultConfig returns a Config with defaults and endpoint auto-detection
// from the environment.
func DefaultConfig(serviceName string) *Config {
	otlpEndpoint := getEnv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT",
		getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""))

	return &Config{
		ServiceName:    serviceName,
		ServiceVersion: getEnv("APP_VERSION", "dev"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		Level:          slog.LevelInfo,
		EnableConsole:  true,
		ConsoleWriter:  os.Stdout,
		JSONFormat:     false,
		EnableOTLP:     otlpEndpoint != "",
		OTLPEndpoint:   otlpEndpoint,
	}
}

var loggerProvider *log.LoggerProvider

// Configure sets up logging and installs the result as the slog default.
// It should be called once at application startup.
func Configure(cfg *Config) (*slog.Logger, error) {
	var handlers []slog.Handler

	if cfg.EnableConsole {
		handlerOpts := &slog.HandlerOptions{Level: cfg.Level}
		writer := cfg.ConsoleWriter
		if writer == nil {
			writer = os.Stdout
		}
		if cfg.JSONFormat {
			handlers = append(handlers, slog.NewJSONHandler(writer, handlerOpts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(writer, handlerOpts))
		}
	}

	if cfg.EnableOTLP {
		otlpHandler, err := setupOTLP(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to setup OTLP: %w", err)
		}
		handlers = append(handlers, otlpHandler)
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level})
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("Logging configured",
		"service_name", cfg.ServiceName,
		"environment", cfg.Environment,
		"version", cfg.ServiceVersion,
		"otlp_enabled", cfg.EnableOTLP,
	)

	return logger, nil
}

// setupOTLP configures OpenTelemetry Protocol logging export.
func setupOTLP(cfg *Config) (slog.Handler, error) {
	exporter, err := otlploggrpc.New(
		context.Background(),
		otlploggrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlploggrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

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

	loggerProvider = log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(exporter)),
	)
	global.SetLoggerProvider(loggerProvider)

	return newOTLPHandler(loggerProvider, cfg.ServiceName), nil
}

// Shutdown flushes any buffered logs and shuts down the logger provider.
func Shutdown(ctx context.Context) error {
	if loggerProvider != nil {
		return loggerProvider.Shutdown(ctx)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// multiHandler sends logs to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
