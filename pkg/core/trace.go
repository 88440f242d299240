package core

import "time"

// TraceEvent records one backend attempt for operational diagnostics.
type TraceEvent struct {
	Time       time.Time   `json:"ts"`
	Operation  Operation   `json:"operation"`
	Backend    BackendKind `json:"backend"`
	DurationMs int64       `json:"durationMs"`
	// Outcome is "success" or the error kind string.
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// TraceSink receives trace events. Implementations are append-only; the
// engine never reads events back.
type TraceSink interface {
	Emit(ev TraceEvent)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements TraceSink.
func (NopSink) Emit(TraceEvent) {}
