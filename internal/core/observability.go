package core

import (
	"context"
	"time"
)

// Logger is the structured logger the service writes to. *logger.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

func systemClock() Clock { return ClockFunc(func() time.Time { return time.Now().UTC() }) }

// MetricsRecorder observes pipeline stage timings and item outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, stage string, success bool, duration time.Duration)
	CountItems(ctx context.Context, outcome string, n int)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) CountItems(context.Context, string, int)              {}

// Tracer starts spans around pipeline stages.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended once with the stage outcome.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

func (noopSpan) End(error) {}

// AuditStatus is the outcome recorded in an AuditEntry.
type AuditStatus string

// Audit statuses.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry summarizes one submitted batch.
type AuditEntry struct {
	Operation string
	Status    AuditStatus
	Items     int
	Committed int
	Rejected  int
	Duration  time.Duration
	Timestamp time.Time
	Error     string
}

// AuditRecorder receives one entry per submitted batch.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

// Item outcomes counted by MetricsRecorder.CountItems.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeDerived   = "derived"
)
