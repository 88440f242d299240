package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure independent of the backend that produced it.
type ErrorKind int

const (
	// ErrKindNone means no error.
	ErrKindNone ErrorKind = iota
	// ErrKindValidation is a malformed finder or request. Never retried,
	// never attempted against a backend.
	ErrKindValidation
	// ErrKindElementNotFound means the target element does not exist on
	// the backend's view of the UI.
	ErrKindElementNotFound
	// ErrKindAmbiguousMatch means the finder matched more than one element.
	ErrKindAmbiguousMatch
	// ErrKindTimeout means the operation produced no terminal outcome
	// before its deadline.
	ErrKindTimeout
	// ErrKindProcess is a subprocess crash, nonzero exit, or dead session.
	ErrKindProcess
	// ErrKindParse means backend output did not match any expected shape.
	ErrKindParse
	// ErrKindDiscoveryFailed means all discovery providers were exhausted.
	ErrKindDiscoveryFailed
	// ErrKindNotConnected means a widget-tree call was issued without a
	// connected session.
	ErrKindNotConnected
	// ErrKindAuthRejected means the runtime service refused the handshake,
	// typically because the URI is missing its auth-token path segment.
	ErrKindAuthRejected
	// ErrKindConfiguration is a programming-time invariant violation such
	// as a capability table gap.
	ErrKindConfiguration
)

// String returns the string representation of ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case ErrKindNone:
		return "none"
	case ErrKindValidation:
		return "validation"
	case ErrKindElementNotFound:
		return "element_not_found"
	case ErrKindAmbiguousMatch:
		return "ambiguous_match"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindProcess:
		return "process"
	case ErrKindParse:
		return "parse"
	case ErrKindDiscoveryFailed:
		return "discovery_failed"
	case ErrKindNotConnected:
		return "not_connected"
	case ErrKindAuthRejected:
		return "auth_rejected"
	case ErrKindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// FallbackEligible reports whether a failure of this kind may trigger a
// retry against the next backend in the selected order. Validation and
// configuration errors are surfaced immediately.
func (k ErrorKind) FallbackEligible() bool {
	switch k {
	case ErrKindValidation, ErrKindConfiguration, ErrKindNone:
		return false
	default:
		return true
	}
}

// AutomationError is a structured failure with a taxonomy kind and the
// backend that produced it.
type AutomationError struct {
	Kind    ErrorKind
	Message string
	Backend BackendKind // originating backend, BackendUnspecified if none
	Cause   error
}

// Error implements the error interface.
func (e *AutomationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AutomationError) Unwrap() error {
	return e.Cause
}

// WithMessage returns a copy of the error with a custom message.
func (e *AutomationError) WithMessage(msg string) *AutomationError {
	return &AutomationError{Kind: e.Kind, Message: msg, Backend: e.Backend, Cause: e.Cause}
}

// WithCause returns a copy of the error with the given cause.
func (e *AutomationError) WithCause(cause error) *AutomationError {
	return &AutomationError{Kind: e.Kind, Message: e.Message, Backend: e.Backend, Cause: cause}
}

// WithBackend returns a copy of the error attributed to the given backend.
func (e *AutomationError) WithBackend(b BackendKind) *AutomationError {
	return &AutomationError{Kind: e.Kind, Message: e.Message, Backend: b, Cause: e.Cause}
}

// Predefined errors, one per taxonomy kind.
var (
	ErrValidation = &AutomationError{
		Kind:    ErrKindValidation,
		Message: "invalid request",
	}
	ErrElementNotFound = &AutomationError{
		Kind:    ErrKindElementNotFound,
		Message: "element not found",
	}
	ErrAmbiguousMatch = &AutomationError{
		Kind:    ErrKindAmbiguousMatch,
		Message: "finder matched more than one element",
	}
	ErrTimeout = &AutomationError{
		Kind:    ErrKindTimeout,
		Message: "operation timed out",
	}
	ErrProcess = &AutomationError{
		Kind:    ErrKindProcess,
		Message: "automation process failed",
	}
	ErrParse = &AutomationError{
		Kind:    ErrKindParse,
		Message: "unrecognized backend output",
	}
	ErrDiscoveryFailed = &AutomationError{
		Kind:    ErrKindDiscoveryFailed,
		Message: "no runtime service endpoint discovered",
	}
	ErrNotConnected = &AutomationError{
		Kind:    ErrKindNotConnected,
		Message: "not connected to runtime service",
	}
	ErrAuthRejected = &AutomationError{
		Kind:    ErrKindAuthRejected,
		Message: "runtime service rejected handshake (missing or invalid auth token)",
	}
	ErrConfiguration = &AutomationError{
		Kind:    ErrKindConfiguration,
		Message: "invalid engine configuration",
	}
)

// AsAutomationError extracts an *AutomationError from err's chain. Errors
// outside the taxonomy are wrapped as process errors so that no failure
// leaves the closed kind set.
func AsAutomationError(err error) *AutomationError {
	if err == nil {
		return nil
	}
	var ae *AutomationError
	if errors.As(err, &ae) {
		return ae
	}
	return ErrProcess.WithMessage(err.Error()).WithCause(err)
}

// KindOf returns the taxonomy kind of err, or ErrKindNone for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrKindNone
	}
	return AsAutomationError(err).Kind
}
