package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndEndSpan_RecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := Tracer
	Tracer = provider.Tracer("test")
	t.Cleanup(func() { Tracer = prev })

	_, span := StartSpan(context.Background(), "validation.batch", attribute.Int("strategy.version", 2))
	EndSpan(span, errors.New("store unavailable"))

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(ended))
	}
	if ended[0].Name() != "validation.batch" {
		t.Errorf("expected span name validation.batch, got %s", ended[0].Name())
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", ended[0].Status().Code)
	}
}

func TestCountersWithoutInit(t *testing.T) {
	// The helpers must be safe before InitTelemetry runs.
	AddStrategyEvolution(context.Background(), "threshold")
	AddScoutReaction(context.Background(), "DigitalOcean", 1)
	RecordBatchDuration(context.Background(), time.Second)
}
