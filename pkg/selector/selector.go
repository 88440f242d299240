// Package selector maps finder shapes to the ordered list of backends able
// to serve them. The capability table here is the single source of truth
// for routing; nothing else in the engine decides backend order.
package selector

import (
	"fmt"

	"github.com/devicelab-dev/flutterctl/pkg/core"
)

// capabilities maps each finder discriminant to the backends able to serve
// it, in preference order. Text and id finders go through the
// accessibility layer first; key and type finders require exact structural
// matches only the widget tree can see.
var capabilities = map[core.FinderKind][]core.BackendKind{
	core.FinderText:            {core.BackendAccessibilityLayer, core.BackendWidgetTree},
	core.FinderAccessibilityID: {core.BackendAccessibilityLayer},
	core.FinderWidgetKey:       {core.BackendWidgetTree},
	core.FinderWidgetType:      {core.BackendWidgetTree},
}

// screenFinderOrder serves operations that target the screen rather than an
// element (swipe, clearText, dumpTree, screenshot). The accessibility layer
// goes first for parity with text finders; per-operation support filtering
// happens in the executor.
var screenOrder = []core.BackendKind{core.BackendAccessibilityLayer, core.BackendWidgetTree}

// CapableOf reports whether the backend appears in the finder kind's
// capability set.
func CapableOf(kind core.FinderKind, backend core.BackendKind) bool {
	for _, b := range capabilities[kind] {
		if b == backend {
			return true
		}
	}
	return false
}

// SelectOrder returns the ordered, non-empty list of backends to attempt
// for the request's finder. An explicit override yields a singleton list
// (override disables fallback); an override outside the finder's capable
// set is a validation error surfaced before any backend is touched.
//
// SelectOrder performs no I/O and never fails for a validly constructed
// request without an override.
func SelectOrder(req *core.AutomationRequest) ([]core.BackendKind, error) {
	var order []core.BackendKind

	if req.Operation.NeedsFinder() || req.Finder != (core.Finder{}) {
		kind, err := req.Finder.Kind()
		if err != nil {
			return nil, err
		}
		order = capabilities[kind]
		if len(order) == 0 {
			// A correctly populated table never hits this: it is a
			// programming-time invariant violation, not a runtime
			// condition to recover from.
			return nil, core.ErrConfiguration.WithMessage(
				fmt.Sprintf("capability table has no backend for %v finders", kind))
		}
	} else {
		order = screenOrder
	}

	if req.Override != core.BackendUnspecified {
		for _, b := range order {
			if b == req.Override {
				return []core.BackendKind{req.Override}, nil
			}
		}
		return nil, core.ErrValidation.WithMessage(fmt.Sprintf(
			"backend %v cannot serve %s", req.Override, req.Finder.Describe()))
	}

	// Copy so callers cannot mutate the table through the returned slice.
	out := make([]core.BackendKind, len(order))
	copy(out, order)
	return out, nil
}
