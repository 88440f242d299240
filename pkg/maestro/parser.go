package maestro

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/devicelab-dev/flutterctl/pkg/core"
)

// RunOutput is the structured result of one CLI invocation.
type RunOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// OutputDir is the test artifact directory the CLI printed, if any.
	OutputDir string
}

var outputDirPattern = regexp.MustCompile(`(/\S+/\.maestro/tests/\d{4}-\d{2}-\d{2}_\d+)`)

var notFoundDetail = regexp.MustCompile(`Unable to find[^:]*:\s*(.+)`)

// Parse derives a structured outcome from the CLI's exit code and output.
// Success and failure come from recognizable markers; output with no
// expected shape is a parse error, distinct from an explicit not-found
// marker or a missing terminal marker. Only the not-found failure is
// eligible for reinterpretation as a successful negative assertion, so the
// distinction matters downstream.
func Parse(exitCode int, stdout, stderr string) (*RunOutput, error) {
	out := &RunOutput{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}
	combined := stdout + "\n" + stderr

	if m := outputDirPattern.FindStringSubmatch(combined); m != nil {
		out.OutputDir = m[1]
	}

	if exitCode == 0 {
		return out, nil
	}

	switch {
	case strings.Contains(combined, "Unable to find"),
		strings.Contains(combined, "Element not found"):
		msg := "element not found"
		if m := notFoundDetail.FindStringSubmatch(combined); m != nil {
			msg = "element not found: " + strings.TrimSpace(m[1])
		}
		return out, core.ErrElementNotFound.WithMessage(msg).WithBackend(core.BackendAccessibilityLayer)

	case strings.Contains(combined, "Assertion is false"),
		strings.Contains(combined, "is visible"):
		// assertNotVisible failed because the element is still on screen.
		return out, core.ErrProcess.
			WithMessage("assertion failed: element is visible").
			WithBackend(core.BackendAccessibilityLayer)

	case strings.Contains(combined, "Timeout"), strings.Contains(combined, "timed out"):
		return out, core.ErrTimeout.
			WithMessage("timed out waiting for element").
			WithBackend(core.BackendAccessibilityLayer)

	case strings.TrimSpace(combined) == "":
		// Nonzero exit with nothing to interpret.
		return out, core.ErrParse.
			WithMessage(fmt.Sprintf("exit code %d with empty output", exitCode)).
			WithBackend(core.BackendAccessibilityLayer)

	default:
		return out, core.ErrProcess.
			WithMessage(fmt.Sprintf("exit code %d: %s", exitCode, lastMeaningfulLine(combined))).
			WithBackend(core.BackendAccessibilityLayer)
	}
}

// lastMeaningfulLine picks the final non-empty line that is not an
// artifact path, truncated to keep error messages readable.
func lastMeaningfulLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || outputDirPattern.MatchString(line) {
			continue
		}
		if len(line) > 200 {
			line = line[:200]
		}
		return line
	}
	return "no output"
}
