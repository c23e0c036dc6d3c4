package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"trustroom/internal/config"
)

func TestInitDisabled(t *testing.T) {
	p, err := Init(context.Background(), config.OTelConfig{})
	if err != nil {
		t.Fatalf("init disabled: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("expected noop tracer and meter")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitNoneExporter(t *testing.T) {
	p, err := Init(context.Background(), config.OTelConfig{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer p.Shutdown(context.Background())
	if p.TracerProvider == nil {
		t.Fatal("expected sdk tracer provider")
	}
	if _, err := NewMetrics(p.Meter); err != nil {
		t.Fatalf("metrics: %v", err)
	}
}

func TestInitUnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), config.OTelConfig{Enabled: true, Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestNoopMetricsUsable(t *testing.T) {
	m := NoopMetrics()
	m.Conflicts.Add(context.Background(), 1)
	m.SideEffectFailures.Add(context.Background(), 1)
	m.LiveSubscribers.Add(context.Background(), -1)
}

func TestStartSpanRecordsAttributes(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	_, span := StartSpan(context.Background(), tp.Tracer(ScopeName), "trust.wake", AttrCaseID.String("c1"))
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != "trust.wake" {
		t.Fatalf("unexpected spans: %v", spans)
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if kv == attribute.String("trustroom.case.id", "c1") {
			found = true
		}
	}
	if !found {
		t.Fatalf("case attribute missing: %v", spans[0].Attributes())
	}
}
