package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const tracingExportTimeout = 5 * time.Second

// InitTracing installs the global tracer provider. Components must obtain
// their tracers afterwards. With tracing disabled the no-op global provider
// stays in place and the returned shutdown does nothing.
func InitTracing(ctx context.Context, cfg Config, logger Logger) (func(context.Context) error, error) {
	if !cfg.TracingEnabled {
		return func(context.Context) error { return nil }, nil
	}

	endpoint := strings.TrimSpace(cfg.TracingEndpoint)
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(tracingExportTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("app: tracing exporter: %w", err)
	}

	res, err := tracingResource(ctx, cfg)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TracingSampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing enabled",
		"node_id", cfg.NodeID,
		"endpoint", endpoint,
		"sample_ratio", cfg.TracingSampleRatio,
	)

	return func(ctx context.Context) error {
		flushErr := tp.ForceFlush(ctx)
		return errors.Join(flushErr, tp.Shutdown(ctx))
	}, nil
}

// tracingResource describes this node. OTEL_RESOURCE_ATTRIBUTES may add to it.
func tracingResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.TracingServiceName),
			attribute.String("service.instance.id", cfg.NodeID),
			attribute.String("kvelldb.storage_engine", cfg.StorageEngine),
			attribute.Bool("kvelldb.sync_writes", cfg.SyncWrites),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("app: tracing resource: %w", err)
	}
	return res, nil
}
