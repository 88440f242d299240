package script

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/flutterctl/pkg/core"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single YAML step script.
func ParseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided script file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// rawScript is the top-level document shape. Steps stay as nodes so each
// can be decoded by form (scalar, shorthand, or full mapping) with its
// source line preserved.
type rawScript struct {
	Name              string      `yaml:"name"`
	ContinueOnFailure bool        `yaml:"continueOnFailure"`
	Steps             []yaml.Node `yaml:"steps"`
}

// stepBody is the full mapping form of a step value.
type stepBody struct {
	Text       string `yaml:"text"`
	ID         string `yaml:"id"`
	Key        string `yaml:"key"`
	Type       string `yaml:"type"`
	Input      string `yaml:"input"`
	Direction  string `yaml:"direction"`
	Timeout    string `yaml:"timeout"` // duration string, e.g. "10s"
	Backend    string `yaml:"backend"`
	NoFallback bool   `yaml:"noFallback"`
}

// Parse parses YAML script content.
//
// Each step is one of three forms:
//
//	- screenshot              # bare operation
//	- tap: "Log in"           # shorthand: text finder
//	- enterText:              # full form
//	    key: email_field
//	    input: user@example.com
func Parse(data []byte, sourcePath string) (*Script, error) {
	var raw rawScript
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: err.Error()}
	}
	if len(raw.Steps) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "script has no steps"}
	}

	s := &Script{
		SourcePath:        sourcePath,
		Name:              raw.Name,
		ContinueOnFailure: raw.ContinueOnFailure,
	}
	for i := range raw.Steps {
		step, err := parseStep(&raw.Steps[i], sourcePath)
		if err != nil {
			return nil, err
		}
		s.Steps = append(s.Steps, *step)
	}
	return s, nil
}

func parseStep(node *yaml.Node, path string) (*Step, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		// Bare operation: "- screenshot"
		return &Step{Operation: core.Operation(node.Value), Line: node.Line}, nil

	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return nil, &ParseError{
				Path:    path,
				Line:    node.Line,
				Message: "step must name exactly one operation",
			}
		}
		keyNode, valNode := node.Content[0], node.Content[1]
		step := &Step{Operation: core.Operation(keyNode.Value), Line: keyNode.Line}

		switch valNode.Kind {
		case yaml.ScalarNode:
			// Shorthand: the value is a text finder.
			if valNode.Tag != "!!null" {
				step.Finder.Text = valNode.Value
			}
			return step, nil
		case yaml.MappingNode:
			var body stepBody
			if err := valNode.Decode(&body); err != nil {
				return nil, &ParseError{Path: path, Line: valNode.Line, Message: err.Error()}
			}
			step.Finder.Text = body.Text
			step.Finder.AccessibilityID = body.ID
			step.Finder.WidgetKey = body.Key
			step.Finder.WidgetType = body.Type
			step.Input = body.Input
			step.Direction = body.Direction
			step.Backend = body.Backend
			step.NoFallback = body.NoFallback
			if body.Timeout != "" {
				d, err := time.ParseDuration(body.Timeout)
				if err != nil {
					return nil, &ParseError{
						Path:    path,
						Line:    valNode.Line,
						Message: fmt.Sprintf("bad timeout %q: %v", body.Timeout, err),
					}
				}
				step.Timeout = d
			}
			return step, nil
		default:
			return nil, &ParseError{
				Path:    path,
				Line:    valNode.Line,
				Message: "step value must be a string or a mapping",
			}
		}

	default:
		return nil, &ParseError{Path: path, Line: node.Line, Message: "step must be a string or a mapping"}
	}
}
