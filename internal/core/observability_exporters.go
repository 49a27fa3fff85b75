package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PrometheusMetricsRecorder exports stage latencies and item outcomes as
// Prometheus collectors.
type PrometheusMetricsRecorder struct {
	stageDuration *prometheus.HistogramVec
	items         *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the pipeline collectors with reg. A
// nil reg uses the default registerer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "catalogcore",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of write pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "status"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalogcore",
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Items processed by the write pipeline by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{r.stageDuration, r.items} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, stage string, success bool, duration time.Duration) {
	if stage == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// CountItems implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) CountItems(_ context.Context, outcome string, n int) {
	if n <= 0 {
		return
	}
	r.items.WithLabelValues(outcome).Add(float64(n))
}

// OTelTracer adapts an OpenTelemetry tracer to Tracer.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer returns a tracer from the global provider. It records nothing
// until a provider is installed.
func NewOTelTracer(name string) *OTelTracer {
	return &OTelTracer{tracer: otel.Tracer(name)}
}

// NewOTelTracerFromProvider returns a tracer from tp.
func NewOTelTracerFromProvider(tp trace.TracerProvider, name string) *OTelTracer {
	return &OTelTracer{tracer: tp.Tracer(name)}
}

// Start implements Tracer.
func (t *OTelTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	ctx, span := t.tracer.Start(ctx, operation, trace.WithAttributes(attribute.String("catalogcore.stage", operation)))
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}
