package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitAndLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "flutterctl.log")
	if err := Init(path); err != nil {
		t.Fatal(err)
	}

	Info("hello %s", "world")
	Warn("watch out")
	Debug("details %d", 42)
	Error("boom")
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"[INFO] hello world", "[WARN] watch out", "[DEBUG] details 42", "[ERROR] boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestLogBeforeInitIsNoop(t *testing.T) {
	Close()
	Info("dropped")
	if w := GetWriter(); w == nil {
		t.Error("GetWriter returned nil")
	}
}
