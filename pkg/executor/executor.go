// Package executor runs automation requests against the registered
// backends, falling back down the capability order when an attempt fails
// for a reason another backend might not share.
package executor

import (
	"context"
	"time"

	"github.com/devicelab-dev/flutterctl/pkg/core"
	"github.com/devicelab-dev/flutterctl/pkg/logger"
	"github.com/devicelab-dev/flutterctl/pkg/selector"
)

// Executor dispatches requests to backends in capability order.
type Executor struct {
	backends map[core.BackendKind]core.Backend
	sink     core.TraceSink
}

// New creates an executor over the given backends. A nil sink disables
// tracing.
func New(sink core.TraceSink, backends ...core.Backend) *Executor {
	if sink == nil {
		sink = core.NopSink{}
	}
	m := make(map[core.BackendKind]core.Backend, len(backends))
	for _, b := range backends {
		m[b.Kind()] = b
	}
	return &Executor{backends: m, sink: sink}
}

// Execute runs one request to completion. The result always carries the
// full attempt record: every backend tried, every failure, and whether
// the winner was a fallback. Execute itself never returns an error;
// failures are part of the result.
func (e *Executor) Execute(ctx context.Context, req *core.AutomationRequest) *core.AutomationResult {
	order, err := selector.SelectOrder(req)
	if err != nil {
		return failed(nil, nil, core.AsAutomationError(err))
	}

	var attempted []core.BackendKind
	var failures []*core.AutomationError

	for _, kind := range order {
		backend, ok := e.backends[kind]
		if !ok || !backend.Supports(req.Operation) {
			// Not an attempt: the backend cannot serve this operation at
			// all, so it neither appears in the record nor counts as a
			// fallback trigger.
			continue
		}

		attempted = append(attempted, kind)
		start := time.Now()
		payload, runErr := backend.Run(ctx, req)
		elapsed := time.Since(start)

		if runErr == nil {
			e.trace(req, kind, elapsed, "success", "")
			return succeeded(kind, attempted, failures, payload)
		}

		aerr := core.AsAutomationError(runErr)
		if aerr.Backend == core.BackendUnspecified {
			aerr = aerr.WithBackend(kind)
		}

		// A negative assertion is satisfied by the element's absence.
		if req.Operation == core.OpAssertNotVisible && aerr.Kind == core.ErrKindElementNotFound {
			e.trace(req, kind, elapsed, "success", "absent")
			return succeeded(kind, attempted, failures, &core.Payload{})
		}

		failures = append(failures, aerr)
		e.trace(req, kind, elapsed, "failure", aerr.Kind.String())
		logger.Warn("%s on %s failed: %v", req.Operation, kind, aerr)

		if !req.Fallback || !aerr.Kind.FallbackEligible() {
			return failed(attempted, failures, aerr)
		}
	}

	if len(attempted) == 0 {
		return failed(nil, nil, core.ErrValidation.WithMessage(
			"no backend supports this operation with this finder"))
	}
	// Every capable backend was tried; the last failure is authoritative.
	return failed(attempted, failures, failures[len(failures)-1])
}

// succeeded records a win. Fallback means an earlier attempt failed, so a
// backend skipped for lack of support does not count.
func succeeded(winner core.BackendKind, attempted []core.BackendKind, failures []*core.AutomationError, payload *core.Payload) *core.AutomationResult {
	return &core.AutomationResult{
		Success:           true,
		BackendUsed:       winner,
		BackendsAttempted: attempted,
		FallbackOccurred:  winner != attempted[0],
		Payload:           payload,
		Failures:          failures,
	}
}

func failed(attempted []core.BackendKind, failures []*core.AutomationError, err *core.AutomationError) *core.AutomationResult {
	return &core.AutomationResult{
		Success:           false,
		BackendsAttempted: attempted,
		Error:             err,
		Failures:          failures,
	}
}

func (e *Executor) trace(req *core.AutomationRequest, backend core.BackendKind, d time.Duration, outcome, detail string) {
	e.sink.Emit(core.TraceEvent{
		Time:       time.Now(),
		Operation:  req.Operation,
		Backend:    backend,
		DurationMs: d.Milliseconds(),
		Outcome:    outcome,
		Detail:     detail,
	})
}
