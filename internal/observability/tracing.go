// Package observability wires OpenTelemetry tracing for the web
// process. Spans are exported over OTLP HTTP to a local collector;
// export failures degrade to no-op tracing rather than failing startup.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultEndpoint is the default OTLP HTTP collector endpoint.
const DefaultEndpoint = "localhost:4318"

// Config for tracing setup.
type Config struct {
	// Enabled turns span export on. Disabled means a no-op shutdown.
	Enabled bool
	// Endpoint is the OTLP HTTP collector address (host:port).
	Endpoint string
	// ServiceName tags every exported span.
	ServiceName string
	// Environment is the deployment environment resource attribute.
	Environment string
}

// noopShutdown is returned when tracing is disabled or setup fails.
func noopShutdown(context.Context) error { return nil }

// Setup registers the global TracerProvider and returns a shutdown
// function that flushes pending spans. Setup failures are logged and
// downgraded to no-op tracing; the chat service does not depend on the
// collector being up.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter failed, tracing disabled",
			"endpoint", endpoint,
			"error", err)
		return noopShutdown, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return noopShutdown, fmt.Errorf("building trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}
