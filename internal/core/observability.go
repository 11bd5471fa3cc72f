package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRecorder receives one observation per service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan terminates a span started by a Tracer.
type TraceSpan interface {
	End(err error)
}

// OperationStats aggregates the observations recorded for one operation.
type OperationStats struct {
	Calls    int64   `json:"calls"`
	Failures int64   `json:"failures"`
	TotalMS  float64 `json:"total_ms"`
	MaxMS    float64 `json:"max_ms"`
}

var recorderSeq atomic.Uint64

// ExpvarMetricsRecorder aggregates per-operation call counts, failure counts,
// and durations, published through expvar for deployments that want
// process-local metrics without a scrape target. The Prometheus recorder is
// the primary exporter; this one backs /debug/vars and tests.
type ExpvarMetricsRecorder struct {
	name  string
	mu    sync.Mutex
	stats map[string]OperationStats
}

// NewExpvarMetricsRecorder constructs a recorder and publishes it under the
// supplied expvar name. An empty name gets a unique generated one, so tests
// can construct recorders freely without colliding in the process-global
// expvar namespace.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("batchcore_operations_%d", recorderSeq.Add(1))
	}
	rec := &ExpvarMetricsRecorder{
		name:  name,
		stats: make(map[string]OperationStats),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot returns a copy of the per-operation aggregates.
func (r *ExpvarMetricsRecorder) Snapshot() map[string]OperationStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]OperationStats, len(r.stats))
	for op, stats := range r.stats {
		out[op] = stats
	}
	return out
}

// Observe records one operation outcome. Observations without an operation
// name are dropped.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)

	r.mu.Lock()
	stats := r.stats[operation]
	stats.Calls++
	if !success {
		stats.Failures++
	}
	stats.TotalMS += ms
	if ms > stats.MaxMS {
		stats.MaxMS = ms
	}
	r.stats[operation] = stats
	r.mu.Unlock()
}

// TraceEvent is one completed operation span recorded by a TraceLog.
type TraceEvent struct {
	Op        string    `json:"op"`
	Outcome   string    `json:"outcome"`
	ElapsedMS float64   `json:"elapsed_ms"`
	Err       string    `json:"err,omitempty"`
	At        time.Time `json:"at"`
}

// traceLogLimit bounds the in-memory event ring so a long-lived service does
// not accumulate spans without bound.
const traceLogLimit = 512

// TraceLog records completed operation spans, keeping a bounded ring of
// recent events and optionally streaming each one as a JSON line.
type TraceLog struct {
	mu     sync.Mutex
	events []TraceEvent
	enc    *json.Encoder
}

// NewTraceLog constructs a trace log. When w is non-nil, every completed span
// is additionally encoded to it as one JSON line.
func NewTraceLog(w io.Writer) *TraceLog {
	log := &TraceLog{}
	if w != nil {
		log.enc = json.NewEncoder(w)
	}
	return log
}

// Events returns a copy of the retained events, oldest first.
func (l *TraceLog) Events() []TraceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TraceEvent(nil), l.events...)
}

// Start implements Tracer.
func (l *TraceLog) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &traceLogSpan{log: l, op: operation, started: time.Now().UTC()}
}

func (l *TraceLog) record(event TraceEvent) {
	l.mu.Lock()
	l.events = append(l.events, event)
	if len(l.events) > traceLogLimit {
		l.events = l.events[len(l.events)-traceLogLimit:]
	}
	if l.enc != nil {
		_ = l.enc.Encode(event)
	}
	l.mu.Unlock()
}

type traceLogSpan struct {
	log     *TraceLog
	op      string
	started time.Time
}

func (s *traceLogSpan) End(err error) {
	ended := time.Now().UTC()
	event := TraceEvent{
		Op:        s.op,
		Outcome:   "ok",
		ElapsedMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		At:        ended,
	}
	if err != nil {
		event.Outcome = "error"
		event.Err = err.Error()
	}
	s.log.record(event)
}
