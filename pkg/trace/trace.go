// Package trace persists per-attempt execution records as JSON lines.
// One process run shares one run id, so attempts from the same invocation
// can be grouped after the fact.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/flutterctl/pkg/core"
	"github.com/devicelab-dev/flutterctl/pkg/logger"
)

// record is one serialized attempt.
type record struct {
	RunID      string `json:"runId"`
	Time       string `json:"time"`
	Operation  string `json:"operation"`
	Backend    string `json:"backend"`
	DurationMs int64  `json:"durationMs"`
	Outcome    string `json:"outcome"`
	Detail     string `json:"detail,omitempty"`
}

// FileSink appends attempt records to a JSONL file.
type FileSink struct {
	mu    sync.Mutex
	f     *os.File
	enc   *json.Encoder
	runID string
}

// NewFileSink opens (or creates) the trace file for appending.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("trace dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trace file: %w", err)
	}
	return &FileSink{f: f, enc: json.NewEncoder(f), runID: uuid.NewString()}, nil
}

// RunID returns the id shared by every record this sink emits.
func (s *FileSink) RunID() string { return s.runID }

// Emit implements core.TraceSink. A write failure is logged and dropped;
// tracing never fails an automation run.
func (s *FileSink) Emit(ev core.TraceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return
	}
	rec := record{
		RunID:      s.runID,
		Time:       ev.Time.Format(time.RFC3339Nano),
		Operation:  string(ev.Operation),
		Backend:    ev.Backend.String(),
		DurationMs: ev.DurationMs,
		Outcome:    ev.Outcome,
		Detail:     ev.Detail,
	}
	if err := s.enc.Encode(rec); err != nil {
		logger.Debug("trace write failed: %v", err)
	}
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
