package maestro

import (
	"strings"
	"testing"

	"github.com/devicelab-dev/flutterctl/pkg/core"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		stdout   string
		stderr   string
		wantKind core.ErrorKind
	}{
		{
			name:     "exit zero is success",
			exitCode: 0,
			stdout:   "Flow Passed",
			wantKind: core.ErrKindNone,
		},
		{
			name:     "unable to find marker",
			exitCode: 1,
			stdout:   "Unable to find element matching: Text matching regex: .*Submit.*",
			wantKind: core.ErrKindElementNotFound,
		},
		{
			name:     "element not found marker in stderr",
			exitCode: 1,
			stderr:   "Element not found",
			wantKind: core.ErrKindElementNotFound,
		},
		{
			name:     "timeout marker",
			exitCode: 1,
			stdout:   "Timeout waiting for app to settle",
			wantKind: core.ErrKindTimeout,
		},
		{
			name:     "assertion failed because element visible",
			exitCode: 1,
			stdout:   "Assertion is false: \".*Loading.*\" is visible",
			wantKind: core.ErrKindProcess,
		},
		{
			name:     "nonzero exit with empty output",
			exitCode: 137,
			wantKind: core.ErrKindParse,
		},
		{
			name:     "nonzero exit with unrecognized output",
			exitCode: 1,
			stderr:   "java.lang.OutOfMemoryError: Java heap space",
			wantKind: core.ErrKindProcess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Parse(tt.exitCode, tt.stdout, tt.stderr)
			if tt.wantKind == core.ErrKindNone {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			ae := core.AsAutomationError(err)
			if ae.Kind != tt.wantKind {
				t.Errorf("got kind %v, want %v", ae.Kind, tt.wantKind)
			}
			if ae.Backend != core.BackendAccessibilityLayer {
				t.Errorf("error should be attributed to the accessibility backend, got %v", ae.Backend)
			}
			if out == nil {
				t.Error("output should be returned even on failure")
			}
		})
	}
}

func TestParse_ExtractsOutputDir(t *testing.T) {
	stdout := "Running flow...\n/Users/ci/.maestro/tests/2026-08-26_101500\nFlow Failed\nUnable to find element"
	out, err := Parse(1, stdout, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if out.OutputDir != "/Users/ci/.maestro/tests/2026-08-26_101500" {
		t.Errorf("got output dir %q", out.OutputDir)
	}
}

func TestParse_ProcessErrorKeepsLastLine(t *testing.T) {
	stderr := "first line\nsecond line\n\n"
	_, err := Parse(2, "", stderr)
	ae := core.AsAutomationError(err)
	if ae.Kind != core.ErrKindProcess {
		t.Fatalf("got kind %v", ae.Kind)
	}
	if !strings.Contains(ae.Message, "second line") {
		t.Errorf("message should carry the last meaningful line, got %q", ae.Message)
	}
}
