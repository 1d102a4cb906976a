package zarrutils

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ayenpure/zarr-utils"

// OpRecord is one operation tracked by a Debugger
type OpRecord struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	OK       bool          `json:"ok"`
	Err      string        `json:"error,omitempty"`
}

// Debugger times and logs the operations it wraps and opens a span for
// each one on the global otel tracer provider. Callers opt in by building
// one and passing it where an operation accepts it. A nil *Debugger runs
// operations untracked.
type Debugger struct {
	logger *slog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	records []OpRecord
}

func NewDebugger(logger *slog.Logger) *Debugger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Debugger{
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// Track starts tracking an operation. The returned func must be called
// with the operation's result when it completes.
func (d *Debugger) Track(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if d == nil {
		return ctx, func(error) {}
	}
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	d.logger.Debug("operation started", "op", name)

	return ctx, func(err error) {
		dur := time.Since(start)
		rec := OpRecord{Name: name, Duration: dur, OK: err == nil}
		if err != nil {
			rec.Err = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.logger.Error("operation failed", "op", name, "duration", dur, "err", err, "explanation", Explain(err))
		} else {
			d.logger.Debug("operation finished", "op", name, "duration", dur)
		}
		span.End()

		d.mu.Lock()
		d.records = append(d.records, rec)
		d.mu.Unlock()
	}
}

// Do runs fn as a tracked operation and returns its error
func (d *Debugger) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, done := d.Track(ctx, name)
	err := fn(ctx)
	done(err)
	return err
}

// Records returns a copy of every tracked operation in completion order
func (d *Debugger) Records() []OpRecord {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]OpRecord, len(d.records))
	copy(out, d.records)
	return out
}

// DebugSummary aggregates a Debugger's records
type DebugSummary struct {
	Operations int           `json:"operations"`
	Failures   int           `json:"failures"`
	Total      time.Duration `json:"total"`
	Slowest    string        `json:"slowest,omitempty"`
}

func (d *Debugger) Summary() DebugSummary {
	s := DebugSummary{}
	var slowest time.Duration
	for _, r := range d.Records() {
		s.Operations++
		s.Total += r.Duration
		if !r.OK {
			s.Failures++
		}
		if r.Duration >= slowest {
			slowest = r.Duration
			s.Slowest = r.Name
		}
	}
	return s
}
