package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ServiceName is the default service and instrumentation name.
const ServiceName = "recurve"

var (
	// Tracer is the application tracer. It uses the global no-op provider
	// until InitTelemetry installs an exporter.
	Tracer trace.Tracer = otel.Tracer(ServiceName)

	// Meter is the application meter.
	Meter metric.Meter = otel.Meter(ServiceName)

	StrategyEvolutions metric.Int64Counter
	ScoutReactions     metric.Int64Counter
	BatchDuration      metric.Float64Histogram
)

// InitTelemetry initializes OpenTelemetry tracing and metrics and returns a
// shutdown function that flushes pending spans.
func InitTelemetry(ctx context.Context, serviceName, otelEndpoint, version string, logger *zap.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if serviceName == "" {
		serviceName = ServiceName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
			attribute.String("environment", "development"),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Tracer = otel.Tracer(serviceName)
	Meter = otel.Meter(serviceName)

	if err := initMetrics(); err != nil {
		return nil, err
	}

	logger.Info("telemetry initialized", zap.String("endpoint", otelEndpoint))

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

func initMetrics() error {
	var err error

	StrategyEvolutions, err = Meter.Int64Counter(
		"recurve.strategy.evolutions",
		metric.WithDescription("Number of strategy versions stored"),
	)
	if err != nil {
		return err
	}

	ScoutReactions, err = Meter.Int64Counter(
		"recurve.scout.reactions",
		metric.WithDescription("Number of outage reactions"),
	)
	if err != nil {
		return err
	}

	BatchDuration, err = Meter.Float64Histogram(
		"recurve.validation.batch_duration",
		metric.WithDescription("Validation batch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	return err
}

// StartSpan starts a span on the application tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddStrategyEvolution counts a stored strategy version.
func AddStrategyEvolution(ctx context.Context, trigger string) {
	if StrategyEvolutions != nil {
		StrategyEvolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	}
}

// AddScoutReaction counts an outage reaction.
func AddScoutReaction(ctx context.Context, competitor string, promoted int) {
	if ScoutReactions != nil {
		ScoutReactions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("competitor", competitor),
			attribute.Int("promoted", promoted),
		))
	}
}

// RecordBatchDuration records how long a validation batch took.
func RecordBatchDuration(ctx context.Context, elapsed time.Duration) {
	if BatchDuration != nil {
		BatchDuration.Record(ctx, float64(elapsed.Milliseconds()))
	}
}
