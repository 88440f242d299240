package maestro

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/devicelab-dev/flutterctl/pkg/core"
	"github.com/devicelab-dev/flutterctl/pkg/logger"
)

// Config configures the accessibility-layer adapter.
type Config struct {
	// BinaryPath locates the automation CLI. Empty means autodetect.
	BinaryPath string
	// AppID is the application the synthesized flows target. Empty
	// targets the foreground app.
	AppID string
	// Device pins execution to one device/emulator.
	Device string
	// FlowDir is where synthesized flows and screenshots are written.
	FlowDir string
	// Persistent keeps one control subprocess alive across calls instead
	// of spawning the CLI per operation.
	Persistent bool
}

// Adapter executes requests through the accessibility layer. It implements
// core.Backend.
type Adapter struct {
	cfg     Config
	session *Session
}

// supported lists the operations the accessibility layer can serve. It has
// no way to read text back out of an element or to dump the widget tree.
var supported = map[core.Operation]bool{
	core.OpTap:              true,
	core.OpDoubleTap:        true,
	core.OpLongPress:        true,
	core.OpSwipe:            true,
	core.OpEnterText:        true,
	core.OpClearText:        true,
	core.OpAssertVisible:    true,
	core.OpAssertNotVisible: true,
	core.OpScreenshot:       true,
}

// New creates the adapter. In persistent mode the control subprocess is
// spawned lazily on first use.
func New(cfg Config) (*Adapter, error) {
	if cfg.BinaryPath == "" {
		path, err := FindBinary()
		if err != nil {
			return nil, err
		}
		cfg.BinaryPath = path
	}
	if cfg.FlowDir == "" {
		cfg.FlowDir = filepath.Join(os.TempDir(), "flutterctl", "flows")
	}
	a := &Adapter{cfg: cfg}
	if cfg.Persistent {
		a.session = NewSession(cfg.BinaryPath, cfg.Device)
	}
	return a, nil
}

// FindBinary locates the automation CLI on PATH and in the conventional
// install locations.
func FindBinary() (string, error) {
	if path, err := exec.LookPath("maestro"); err == nil {
		return path, nil
	}
	home, _ := os.UserHomeDir()
	for _, candidate := range []string{
		filepath.Join(home, ".maestro", "bin", "maestro"),
		"/usr/local/bin/maestro",
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", core.ErrConfiguration.WithMessage(
		"maestro binary not found; install it or set the binary path")
}

// Kind implements core.Backend.
func (a *Adapter) Kind() core.BackendKind { return core.BackendAccessibilityLayer }

// Supports implements core.Backend.
func (a *Adapter) Supports(op core.Operation) bool { return supported[op] }

// SessionState exposes the persistent session state, StateUnstarted when
// running one-shot.
func (a *Adapter) SessionState() SessionState {
	if a.session == nil {
		return StateUnstarted
	}
	return a.session.State()
}

// Run implements core.Backend. It synthesizes a one-step flow for the
// request and executes it in the configured mode.
func (a *Adapter) Run(ctx context.Context, req *core.AutomationRequest) (*core.Payload, error) {
	if !a.Supports(req.Operation) {
		return nil, core.ErrValidation.WithMessage(
			fmt.Sprintf("accessibility layer does not support %q", req.Operation))
	}

	screenshotDir := filepath.Join(a.cfg.FlowDir, "screenshots")
	flow, screenshotPath, err := buildFlow(req, a.cfg.AppID, screenshotDir)
	if err != nil {
		return nil, err
	}

	if a.session != nil {
		yamlFlow, err := flow.Build()
		if err != nil {
			return nil, err
		}
		_, err = a.session.RunFlow(yamlFlow, req.Timeout)
		if err != nil {
			return nil, err
		}
		return a.payloadFor(req, screenshotPath)
	}

	if screenshotPath != "" {
		if err := os.MkdirAll(screenshotDir, 0o755); err != nil {
			return nil, core.ErrProcess.WithMessage("cannot create screenshot dir").WithCause(err)
		}
	}
	path, err := flow.Save(a.cfg.FlowDir)
	if err != nil {
		return nil, core.ErrProcess.WithMessage("cannot write flow file").WithCause(err)
	}
	if _, err := a.execOnce(ctx, path, req); err != nil {
		return nil, err
	}
	return a.payloadFor(req, screenshotPath)
}

// execOnce runs one fresh CLI subprocess for the flow and parses its
// output.
func (a *Adapter) execOnce(ctx context.Context, flowPath string, req *core.AutomationRequest) (*RunOutput, error) {
	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	args := []string{"test", flowPath}
	if a.cfg.Device != "" {
		args = append(args, "--device", a.cfg.Device)
	}
	logger.Debug("exec %s %v", a.cfg.BinaryPath, args)

	cmd := exec.CommandContext(runCtx, a.cfg.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() != nil {
		// No terminal marker before the deadline.
		return nil, core.ErrTimeout.
			WithMessage(fmt.Sprintf("no result within %s", req.Timeout)).
			WithBackend(core.BackendAccessibilityLayer)
	}
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, core.ErrProcess.
				WithMessage("failed to run automation binary").
				WithCause(err).
				WithBackend(core.BackendAccessibilityLayer)
		}
	}
	return Parse(exitCode, stdout.String(), stderr.String())
}

func (a *Adapter) payloadFor(req *core.AutomationRequest, screenshotPath string) (*core.Payload, error) {
	if req.Operation != core.OpScreenshot {
		return &core.Payload{}, nil
	}
	if _, err := os.Stat(screenshotPath); err != nil {
		return nil, core.ErrProcess.
			WithMessage("screenshot file was not produced").
			WithCause(err).
			WithBackend(core.BackendAccessibilityLayer)
	}
	return &core.Payload{ScreenshotPath: screenshotPath}, nil
}

// Close releases the persistent subprocess, if any. Part of the guaranteed
// teardown path on process shutdown.
func (a *Adapter) Close() error {
	if a.session != nil {
		a.session.Close()
	}
	return nil
}
