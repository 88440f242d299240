package core

import (
	"fmt"
	"time"
)

// Operation is the UI action a request performs.
type Operation string

// Operation constants.
const (
	OpTap              Operation = "tap"
	OpDoubleTap        Operation = "doubleTap"
	OpLongPress        Operation = "longPress"
	OpSwipe            Operation = "swipe"
	OpEnterText        Operation = "enterText"
	OpClearText        Operation = "clearText"
	OpAssertVisible    Operation = "assertVisible"
	OpAssertNotVisible Operation = "assertNotVisible"
	OpGetText          Operation = "getText"
	OpDumpTree         Operation = "dumpTree"
	OpScreenshot       Operation = "screenshot"
)

// knownOperations is the closed set of operations the engine accepts.
var knownOperations = map[Operation]bool{
	OpTap:              true,
	OpDoubleTap:        true,
	OpLongPress:        true,
	OpSwipe:            true,
	OpEnterText:        true,
	OpClearText:        true,
	OpAssertVisible:    true,
	OpAssertNotVisible: true,
	OpGetText:          true,
	OpDumpTree:         true,
	OpScreenshot:       true,
}

// NeedsFinder reports whether the operation targets a specific element.
// ClearText acts on the focused field, Swipe on the screen, DumpTree and
// Screenshot on the whole UI.
func (o Operation) NeedsFinder() bool {
	switch o {
	case OpClearText, OpSwipe, OpDumpTree, OpScreenshot:
		return false
	default:
		return true
	}
}

// SwipeDirection is the direction payload of a swipe operation.
type SwipeDirection string

// Swipe directions.
const (
	SwipeUp    SwipeDirection = "up"
	SwipeDown  SwipeDirection = "down"
	SwipeLeft  SwipeDirection = "left"
	SwipeRight SwipeDirection = "right"
)

// DefaultTimeout applies when a request does not set its own.
const DefaultTimeout = 30 * time.Second

// AutomationRequest describes one UI operation against one element.
// Immutable once constructed; owned exclusively by the call that created
// it. Build requests through NewRequest so the finder invariant is
// enforced before any backend is touched.
type AutomationRequest struct {
	Operation Operation
	Finder    Finder

	// Override pins execution to a single backend and disables fallback.
	// BackendUnspecified means no override.
	Override BackendKind

	// Timeout bounds each backend attempt. Zero means DefaultTimeout.
	Timeout time.Duration

	// Fallback enables retrying the next capable backend after a
	// fallback-eligible failure.
	Fallback bool

	// Text is the payload for enterText.
	Text string

	// Direction is the payload for swipe.
	Direction SwipeDirection
}

// NewRequest constructs a validated request. It fails with a validation
// error for unknown operations, malformed finders, and missing payloads.
func NewRequest(op Operation, finder Finder, opts ...RequestOption) (*AutomationRequest, error) {
	req := &AutomationRequest{
		Operation: op,
		Finder:    finder,
		Timeout:   DefaultTimeout,
		Fallback:  true,
	}
	for _, opt := range opts {
		opt(req)
	}

	if !knownOperations[op] {
		return nil, ErrValidation.WithMessage(fmt.Sprintf("unknown operation %q", op))
	}
	if op.NeedsFinder() {
		if err := finder.Validate(); err != nil {
			return nil, err
		}
	} else if !finder.isZero() {
		if err := finder.Validate(); err != nil {
			return nil, err
		}
	}
	if op == OpEnterText && req.Text == "" {
		return nil, ErrValidation.WithMessage("enterText requires a text payload")
	}
	if op == OpSwipe {
		switch req.Direction {
		case SwipeUp, SwipeDown, SwipeLeft, SwipeRight:
		default:
			return nil, ErrValidation.WithMessage(fmt.Sprintf("swipe requires a direction, got %q", req.Direction))
		}
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
	return req, nil
}

func (f Finder) isZero() bool {
	return f == Finder{}
}

// RequestOption customizes a request at construction time.
type RequestOption func(*AutomationRequest)

// WithOverride pins the request to a single backend.
func WithOverride(b BackendKind) RequestOption {
	return func(r *AutomationRequest) { r.Override = b }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) RequestOption {
	return func(r *AutomationRequest) { r.Timeout = d }
}

// WithoutFallback disables retrying against alternate backends.
func WithoutFallback() RequestOption {
	return func(r *AutomationRequest) { r.Fallback = false }
}

// WithText sets the enterText payload.
func WithText(text string) RequestOption {
	return func(r *AutomationRequest) { r.Text = text }
}

// WithDirection sets the swipe direction payload.
func WithDirection(d SwipeDirection) RequestOption {
	return func(r *AutomationRequest) { r.Direction = d }
}
