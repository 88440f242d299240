package core

// Payload carries the operation-specific value of a successful attempt.
// Action-only operations (tap, swipe, enterText, assertions) produce an
// empty payload.
type Payload struct {
	// Text is the value returned by getText.
	Text string `json:"text,omitempty"`

	// Tree is the widget/render tree snapshot returned by dumpTree,
	// serialized as JSON.
	Tree string `json:"tree,omitempty"`

	// ScreenshotPath is the file the screenshot operation wrote.
	ScreenshotPath string `json:"screenshotPath,omitempty"`
}

// AutomationResult is the normalized outcome of one request. Produced
// exactly once per request; there is no partial or streaming result.
type AutomationResult struct {
	// Success reports whether any backend completed the operation.
	Success bool `json:"success"`

	// BackendUsed names the backend that ultimately answered.
	// BackendUnspecified when no backend succeeded.
	BackendUsed BackendKind `json:"backendUsed"`

	// BackendsAttempted lists every backend tried, in order.
	BackendsAttempted []BackendKind `json:"backendsAttempted"`

	// FallbackOccurred is true when the winning backend was not the
	// first in the selected order.
	FallbackOccurred bool `json:"fallbackOccurred"`

	// Payload holds operation-specific output. Nil on failure and for
	// action-only operations.
	Payload *Payload `json:"payload,omitempty"`

	// Error is the authoritative failure, present iff Success is false.
	// Later backends are chosen because they are more likely to succeed
	// for the finder shape, so the last failure wins.
	Error *AutomationError `json:"-"`

	// Failures retains every failed attempt for diagnostics, including
	// attempts that preceded an eventual fallback success.
	Failures []*AutomationError `json:"-"`
}
