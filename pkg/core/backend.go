// Package core defines the request/result model shared by all automation
// backends: finders, operations, outcomes, and the error taxonomy.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// BackendKind identifies an automation backend.
type BackendKind int

const (
	// BackendUnspecified means no backend was named (no explicit override).
	BackendUnspecified BackendKind = iota
	// BackendAccessibilityLayer drives the app through the platform
	// accessibility tree via an external CLI tool.
	BackendAccessibilityLayer
	// BackendWidgetTree drives the app through the widget tree via the
	// application runtime service socket.
	BackendWidgetTree
)

// String returns the string representation of BackendKind.
func (k BackendKind) String() string {
	switch k {
	case BackendAccessibilityLayer:
		return "accessibility"
	case BackendWidgetTree:
		return "widget-tree"
	default:
		return "unspecified"
	}
}

// MarshalJSON renders the kind by name in result output.
func (k BackendKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// ParseBackendKind parses a backend name as given on the command line.
func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return BackendUnspecified, nil
	case "accessibility", "accessibility-layer", "maestro":
		return BackendAccessibilityLayer, nil
	case "widget-tree", "widgettree", "driver":
		return BackendWidgetTree, nil
	default:
		return BackendUnspecified, ErrValidation.WithMessage(fmt.Sprintf("unknown backend %q", s))
	}
}

// Backend executes a single automation request against one automation
// surface. Implementations: the accessibility-layer adapter (external CLI)
// and the widget-tree adapter (runtime service socket).
type Backend interface {
	// Kind identifies the backend.
	Kind() BackendKind

	// Supports reports whether the backend can execute the operation at
	// all, independent of the finder. The executor skips backends that
	// cannot serve an operation instead of attempting them.
	Supports(op Operation) bool

	// Run executes the request and returns the operation payload.
	// Errors are *AutomationError values carrying a taxonomy kind.
	Run(ctx context.Context, req *AutomationRequest) (*Payload, error)
}
