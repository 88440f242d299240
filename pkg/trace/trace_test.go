package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/flutterctl/pkg/core"
)

func TestFileSinkWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "run.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	sink.Emit(core.TraceEvent{Time: now, Operation: core.OpTap, Backend: core.BackendAccessibilityLayer, DurationMs: 42, Outcome: "failure", Detail: "element_not_found"})
	sink.Emit(core.TraceEvent{Time: now, Operation: core.OpTap, Backend: core.BackendWidgetTree, DurationMs: 7, Outcome: "success"})
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var records []record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		records = append(records, rec)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].RunID == "" || records[0].RunID != records[1].RunID {
		t.Error("records do not share one run id")
	}
	if records[0].Operation != "tap" || records[0].Outcome != "failure" || records[0].DurationMs != 42 {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].Backend != "widget-tree" || records[1].Outcome != "success" {
		t.Errorf("second record = %+v", records[1])
	}
}

func TestFileSinkConcurrentEmit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Emit(core.TraceEvent{Time: time.Now(), Operation: core.OpTap, Backend: core.BackendAccessibilityLayer, Outcome: "success"})
		}()
	}
	wg.Wait()
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	f, _ := os.Open(path)
	defer f.Close()
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("interleaved write corrupted a line: %v (%q)", err, scanner.Text())
		}
		lines++
	}
	if lines != 16 {
		t.Fatalf("got %d lines, want 16 (file %d bytes)", lines, len(data))
	}
}

func TestEmitAfterCloseIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	sink.Emit(core.TraceEvent{Time: time.Now(), Operation: core.OpTap})
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
}
