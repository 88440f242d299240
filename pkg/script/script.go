// Package script handles parsing and representation of flutterctl YAML
// step scripts: a sequence of automation operations executed in order.
package script

import (
	"time"

	"github.com/devicelab-dev/flutterctl/pkg/core"
)

// Script represents a parsed step script.
type Script struct {
	SourcePath string // Path to the source file
	Name       string // Optional display name
	// ContinueOnFailure keeps executing after a failed step instead of
	// stopping at the first failure.
	ContinueOnFailure bool
	Steps             []Step
}

// Step is one operation in a script.
type Step struct {
	Operation core.Operation
	Finder    core.Finder
	Input     string // enterText payload
	Direction string // swipe direction
	Timeout   time.Duration
	Backend   string // backend override by name, "" = none
	// NoFallback fails the step on the first backend instead of walking
	// the capability order.
	NoFallback bool
	Line       int // Source line, for error reporting
}

// Request converts the step into an executable request, applying
// defaultTimeout where the step names none.
func (s *Step) Request(defaultTimeout time.Duration) (*core.AutomationRequest, error) {
	opts := []core.RequestOption{core.WithTimeout(defaultTimeout)}
	if s.Timeout > 0 {
		opts = append(opts, core.WithTimeout(s.Timeout))
	}
	if s.NoFallback {
		opts = append(opts, core.WithoutFallback())
	}
	if s.Backend != "" {
		kind, err := core.ParseBackendKind(s.Backend)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithOverride(kind))
	}
	if s.Input != "" {
		opts = append(opts, core.WithText(s.Input))
	}
	if s.Direction != "" {
		opts = append(opts, core.WithDirection(core.SwipeDirection(s.Direction)))
	}
	return core.NewRequest(s.Operation, s.Finder, opts...)
}

// Validate builds every step's request without executing anything, so a
// script can be checked before a run touches the device.
func (s *Script) Validate(defaultTimeout time.Duration) error {
	for i := range s.Steps {
		if _, err := s.Steps[i].Request(defaultTimeout); err != nil {
			return &ParseError{
				Path:    s.SourcePath,
				Line:    s.Steps[i].Line,
				Message: err.Error(),
			}
		}
	}
	return nil
}
