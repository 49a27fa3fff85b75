package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"catalogcore/pkg/domain"
)

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusMetricsRecorder: %v", err)
	}
	ctx := context.Background()
	rec.Observe(ctx, StagePersist, true, 10*time.Millisecond)
	rec.Observe(ctx, StagePersist, false, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)
	rec.CountItems(ctx, OutcomeCommitted, 3)
	rec.CountItems(ctx, OutcomeCommitted, 0)

	if got := testutil.ToFloat64(rec.items.WithLabelValues(OutcomeCommitted)); got != 3 {
		t.Fatalf("expected 3 committed items, got %v", got)
	}
	if got := testutil.CollectAndCount(rec.stageDuration); got != 2 {
		t.Fatalf("expected 2 stage series, got %d", got)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestServiceMetricsThroughPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusMetricsRecorder: %v", err)
	}
	svc, _ := newTestService(t, WithMetricsRecorder(rec))
	if _, _, err := svc.Submit(context.Background(), items(change(t, u1, "status", domain.ChangeUpsert, map[string]any{"removed": false}))); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := testutil.ToFloat64(rec.items.WithLabelValues(OutcomeCommitted)); got != 1 {
		t.Fatalf("expected 1 committed item, got %v", got)
	}
}

func TestOTelTracerRecordsStages(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tracer := NewOTelTracerFromProvider(tp, "catalogcore/test")

	_, ok := tracer.Start(context.Background(), StageValidate)
	ok.End(nil)
	_, failed := tracer.Start(context.Background(), StagePersist)
	failed.End(errors.New("disk full"))

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != StageValidate || spans[0].Status().Code == codes.Error {
		t.Fatalf("unexpected first span %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Name() != StagePersist || spans[1].Status().Code != codes.Error || spans[1].Status().Description != "disk full" {
		t.Fatalf("unexpected failed span %s %v", spans[1].Name(), spans[1].Status())
	}
}

func TestServiceTracesEveryStage(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	svc, _ := newTestService(t, WithTracer(NewOTelTracerFromProvider(tp, "catalogcore/test")))
	if _, _, err := svc.Submit(context.Background(), items(change(t, u1, "status", domain.ChangeUpsert, map[string]any{"removed": false}))); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	names := make(map[string]bool)
	for _, s := range sr.Ended() {
		names[s.Name()] = true
	}
	for _, stage := range []string{StageNormalize, StageValidate, StagePersist, StageWriteMutation} {
		if !names[stage] {
			t.Fatalf("missing span for %s in %v", stage, names)
		}
	}
}
