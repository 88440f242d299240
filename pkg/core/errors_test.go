package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKind_FallbackEligible(t *testing.T) {
	eligible := []ErrorKind{
		ErrKindElementNotFound, ErrKindAmbiguousMatch, ErrKindTimeout,
		ErrKindProcess, ErrKindParse, ErrKindDiscoveryFailed,
		ErrKindNotConnected, ErrKindAuthRejected,
	}
	for _, k := range eligible {
		if !k.FallbackEligible() {
			t.Errorf("%v should be fallback-eligible", k)
		}
	}
	for _, k := range []ErrorKind{ErrKindValidation, ErrKindConfiguration, ErrKindNone} {
		if k.FallbackEligible() {
			t.Errorf("%v should not be fallback-eligible", k)
		}
	}
}

func TestAutomationError_Helpers(t *testing.T) {
	cause := errors.New("boom")
	err := ErrProcess.WithMessage("subprocess exited").WithCause(cause).WithBackend(BackendAccessibilityLayer)

	if err.Kind != ErrKindProcess {
		t.Errorf("got kind %v", err.Kind)
	}
	if err.Backend != BackendAccessibilityLayer {
		t.Errorf("got backend %v", err.Backend)
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable via errors.Is")
	}
	if err.Error() != "subprocess exited: boom" {
		t.Errorf("got %q", err.Error())
	}

	// Helpers must not mutate the sentinel.
	if ErrProcess.Backend != BackendUnspecified || ErrProcess.Cause != nil {
		t.Error("sentinel was mutated")
	}
}

func TestAsAutomationError(t *testing.T) {
	if AsAutomationError(nil) != nil {
		t.Error("nil should map to nil")
	}

	wrapped := fmt.Errorf("attempt failed: %w", ErrAuthRejected)
	if got := AsAutomationError(wrapped); got.Kind != ErrKindAuthRejected {
		t.Errorf("got kind %v, want auth_rejected", got.Kind)
	}

	plain := errors.New("dial tcp: connection refused")
	got := AsAutomationError(plain)
	if got.Kind != ErrKindProcess {
		t.Errorf("foreign error should map to process, got %v", got.Kind)
	}
	if !errors.Is(got, plain) {
		t.Error("original error should be preserved as cause")
	}
}
