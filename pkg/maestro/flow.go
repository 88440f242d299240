// Package maestro drives UI automation through the accessibility layer by
// synthesizing declarative flow files and running them with the Maestro
// CLI, either one subprocess per call or through a persistent
// command-and-control subprocess.
package maestro

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/flutterctl/pkg/core"
)

// FlowBuilder assembles a Maestro YAML flow, one step per operation.
type FlowBuilder struct {
	appID string
	steps []interface{}
}

// NewFlowBuilder creates a builder for the given app id. An empty app id
// targets the current foreground app.
func NewFlowBuilder(appID string) *FlowBuilder {
	return &FlowBuilder{appID: appID}
}

// partialPattern wraps text in a match-anywhere regex. Text finders always
// match substrings, never the exact label.
func partialPattern(text string) string {
	if strings.HasPrefix(text, ".*") {
		return text
	}
	return ".*" + text + ".*"
}

// TapText taps the first element whose label contains text.
func (b *FlowBuilder) TapText(text string) *FlowBuilder {
	b.steps = append(b.steps, map[string]interface{}{"tapOn": partialPattern(text)})
	return b
}

// TapID taps the element with the given accessibility/resource id.
func (b *FlowBuilder) TapID(id string) *FlowBuilder {
	b.steps = append(b.steps, map[string]interface{}{
		"tapOn": map[string]interface{}{"id": id},
	})
	return b
}

// DoubleTapText double-taps the first element whose label contains text.
func (b *FlowBuilder) DoubleTapText(text string) *FlowBuilder {
	b.steps = append(b.steps, map[string]interface{}{"doubleTapOn": partialPattern(text)})
	return b
}

// DoubleTapID double-taps the element with the given id.
func (b *FlowBuilder) DoubleTapID(id string) *FlowBuilder {
	b.steps = append(b.steps, map[string]interface{}{
		"doubleTapOn": map[string]interface{}{"id": id},
	})
	return b
}

// LongPressText long-presses the first element whose label contains text.
func (b *FlowBuilder) LongPressText(text string) *FlowBuilder {
	b.steps = append(b.steps, map[string]interface{}{"longPressOn": partialPattern(text)})
	return b
}

// LongPressID long-presses the element with the given id.
func (b *FlowBuilder) LongPressID(id string) *FlowBuilder {
	b.steps = append(b.steps, map[string]interface{}{
		"longPressOn": map[string]interface{}{"id": id},
	})
	return b
}

// EnterText focuses the target element (when a finder is given) and types
// text into it.
func (b *FlowBuilder) EnterText(text string, finder core.Finder) *FlowBuilder {
	switch {
	case finder.AccessibilityID != "":
		b.TapID(finder.AccessibilityID)
	case finder.Text != "":
		// Partial match: input fields usually expose hint text.
		b.steps = append(b.steps, map[string]interface{}{"tapOn": partialPattern(finder.Text)})
	}
	b.steps = append(b.steps, map[string]interface{}{"inputText": text})
	return b
}

// EraseText clears the focused text field.
func (b *FlowBuilder) EraseText() *FlowBuilder {
	b.steps = append(b.steps, map[string]interface{}{"eraseText": 100})
	return b
}

// Swipe swipes the screen in the given direction.
func (b *FlowBuilder) Swipe(dir core.SwipeDirection) *FlowBuilder {
	b.steps = append(b.steps, map[string]interface{}{
		"swipe": map[string]interface{}{
			"direction": strings.ToUpper(string(dir)),
			"duration":  400,
		},
	})
	return b
}

// AssertVisible asserts an element containing text (or carrying id) is on
// screen.
func (b *FlowBuilder) AssertVisible(finder core.Finder) *FlowBuilder {
	b.steps = append(b.steps, map[string]interface{}{"assertVisible": assertionSelector(finder)})
	return b
}

// AssertNotVisible asserts no element containing text (or carrying id) is
// on screen.
func (b *FlowBuilder) AssertNotVisible(finder core.Finder) *FlowBuilder {
	b.steps = append(b.steps, map[string]interface{}{"assertNotVisible": assertionSelector(finder)})
	return b
}

func assertionSelector(finder core.Finder) interface{} {
	if finder.AccessibilityID != "" {
		return map[string]interface{}{"id": finder.AccessibilityID}
	}
	return partialPattern(finder.Text)
}

// LaunchApp brings the app to the foreground.
func (b *FlowBuilder) LaunchApp() *FlowBuilder {
	b.steps = append(b.steps, "launchApp")
	return b
}

// TakeScreenshot captures the screen to path (Maestro appends .png).
func (b *FlowBuilder) TakeScreenshot(path string) *FlowBuilder {
	b.steps = append(b.steps, map[string]interface{}{"takeScreenshot": path})
	return b
}

// Build renders the flow as a two-document YAML file: a header naming the
// app id, then the step list.
func (b *FlowBuilder) Build() (string, error) {
	if len(b.steps) == 0 {
		return "", core.ErrValidation.WithMessage("flow has no steps")
	}
	header, err := yaml.Marshal(map[string]string{"appId": b.appID})
	if err != nil {
		return "", err
	}
	body, err := yaml.Marshal(b.steps)
	if err != nil {
		return "", err
	}
	return string(header) + "---\n" + string(body), nil
}

// Save writes the flow to dir under a timestamped name and returns the path.
func (b *FlowBuilder) Save(dir string) (string, error) {
	content, err := b.Build()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("flow_%d.yaml", time.Now().UnixNano()))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// buildFlow translates a request into a single-step flow. The selector
// guarantees the finder shape is servable here; anything else is a
// validation error.
func buildFlow(req *core.AutomationRequest, appID, screenshotDir string) (*FlowBuilder, string, error) {
	b := NewFlowBuilder(appID)
	finder := req.Finder

	if finder.WidgetKey != "" || finder.WidgetType != "" {
		return nil, "", core.ErrValidation.WithMessage(
			fmt.Sprintf("accessibility layer cannot serve %s", finder.Describe()))
	}

	switch req.Operation {
	case core.OpTap:
		if finder.AccessibilityID != "" {
			b.TapID(finder.AccessibilityID)
		} else {
			b.TapText(finder.Text)
		}
	case core.OpDoubleTap:
		if finder.AccessibilityID != "" {
			b.DoubleTapID(finder.AccessibilityID)
		} else {
			b.DoubleTapText(finder.Text)
		}
	case core.OpLongPress:
		if finder.AccessibilityID != "" {
			b.LongPressID(finder.AccessibilityID)
		} else {
			b.LongPressText(finder.Text)
		}
	case core.OpEnterText:
		b.EnterText(req.Text, finder)
	case core.OpClearText:
		b.EraseText()
	case core.OpSwipe:
		b.Swipe(req.Direction)
	case core.OpAssertVisible:
		b.AssertVisible(finder)
	case core.OpAssertNotVisible:
		b.AssertNotVisible(finder)
	case core.OpScreenshot:
		name := filepath.Join(screenshotDir, fmt.Sprintf("screenshot_%d", time.Now().UnixNano()))
		b.LaunchApp()
		b.TakeScreenshot(name)
		return b, name + ".png", nil
	default:
		return nil, "", core.ErrValidation.WithMessage(
			fmt.Sprintf("accessibility layer cannot serve operation %q", req.Operation))
	}
	return b, "", nil
}
