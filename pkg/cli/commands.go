package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/flutterctl/pkg/core"
	"github.com/devicelab-dev/flutterctl/pkg/maestro"
)

// finderFlags select the target element. Exactly one must be given for
// operations that take a finder.
var finderFlags = []cli.Flag{
	&cli.StringFlag{Name: "text", Usage: "Match by visible text (substring)"},
	&cli.StringFlag{Name: "id", Usage: "Match by accessibility id"},
	&cli.StringFlag{Name: "key", Usage: "Match by widget key"},
	&cli.StringFlag{Name: "type", Usage: "Match by widget type name"},
}

var execCommand = &cli.Command{
	Name:      "exec",
	Usage:     "Execute one automation operation",
	ArgsUsage: "<operation>",
	Description: `Operations: tap, doubleTap, longPress, swipe, enterText, clearText,
assertVisible, assertNotVisible, getText, dumpTree, screenshot.

The result is printed as JSON on stdout; a failed operation exits 1.`,
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "input", Usage: "Text payload for enterText"},
		&cli.StringFlag{Name: "direction", Usage: "Swipe direction (up, down, left, right)"},
		&cli.DurationFlag{Name: "timeout", Usage: "Per-attempt timeout (default from config)"},
		&cli.StringFlag{Name: "backend", Usage: "Force one backend (accessibility, widget-tree)"},
		&cli.BoolFlag{Name: "no-fallback", Usage: "Fail on the first backend instead of falling back"},
	}, finderFlags...),
	Action: runExec,
}

func runExec(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exec takes exactly one operation argument", 2)
	}

	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.close()

	req, err := buildRequest(c, rt.timeout(), core.Operation(c.Args().First()))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := rt.execute(ctx, req)
	printResult(result)
	if !result.Success {
		return cli.Exit("", 1)
	}
	return nil
}

// buildRequest assembles the request from flags, applying config defaults.
func buildRequest(c *cli.Context, defaultTimeout time.Duration, op core.Operation) (*core.AutomationRequest, error) {
	finder := core.Finder{
		Text:            c.String("text"),
		AccessibilityID: c.String("id"),
		WidgetKey:       c.String("key"),
		WidgetType:      c.String("type"),
	}

	opts := []core.RequestOption{core.WithTimeout(defaultTimeout)}
	if d := c.Duration("timeout"); d > 0 {
		opts = append(opts, core.WithTimeout(d))
	}
	if c.Bool("no-fallback") {
		opts = append(opts, core.WithoutFallback())
	}
	if v := c.String("backend"); v != "" {
		kind, err := core.ParseBackendKind(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithOverride(kind))
	}
	if v := c.String("input"); v != "" {
		opts = append(opts, core.WithText(v))
	}
	if v := c.String("direction"); v != "" {
		opts = append(opts, core.WithDirection(core.SwipeDirection(v)))
	}

	return core.NewRequest(op, finder, opts...)
}

// resultView is the JSON shape printed on stdout. Failures serialize by
// kind and message rather than as opaque error strings.
type resultView struct {
	Success           bool               `json:"success"`
	BackendUsed       core.BackendKind   `json:"backendUsed"`
	BackendsAttempted []core.BackendKind `json:"backendsAttempted"`
	FallbackOccurred  bool               `json:"fallbackOccurred"`
	Payload           *core.Payload      `json:"payload,omitempty"`
	Error             *errorView         `json:"error,omitempty"`
	Failures          []errorView        `json:"failures,omitempty"`
}

type errorView struct {
	Backend string `json:"backend"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func viewOf(err *core.AutomationError) errorView {
	return errorView{
		Backend: err.Backend.String(),
		Kind:    err.Kind.String(),
		Message: err.Message,
	}
}

func printResult(result *core.AutomationResult) {
	view := resultView{
		Success:           result.Success,
		BackendUsed:       result.BackendUsed,
		BackendsAttempted: result.BackendsAttempted,
		FallbackOccurred:  result.FallbackOccurred,
		Payload:           result.Payload,
	}
	if result.Error != nil {
		ev := viewOf(result.Error)
		view.Error = &ev
	}
	for _, f := range result.Failures {
		view.Failures = append(view.Failures, viewOf(f))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(view)
}

var discoverCommand = &cli.Command{
	Name:  "discover",
	Usage: "Locate the runtime service endpoint and print its URI",
	Action: func(c *cli.Context) error {
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		uri, err := rt.chain().Discover(ctx)
		if err != nil {
			return cli.Exit(fmt.Sprintf("discovery failed: %v", err), 1)
		}
		fmt.Println(uri)
		return nil
	},
}

var treeCommand = &cli.Command{
	Name:  "tree",
	Usage: "Dump the widget tree as JSON",
	Action: func(c *cli.Context) error {
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		req, err := core.NewRequest(core.OpDumpTree, core.Finder{}, core.WithTimeout(rt.timeout()))
		if err != nil {
			return err
		}
		result := rt.execute(ctx, req)
		if !result.Success {
			return cli.Exit(fmt.Sprintf("dump failed: %v", result.Error), 1)
		}
		fmt.Println(result.Payload.Tree)
		return nil
	},
}

var screenshotCommand = &cli.Command{
	Name:  "screenshot",
	Usage: "Capture the screen and print the file path",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write the capture to this path"},
	},
	Action: func(c *cli.Context) error {
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		req, err := core.NewRequest(core.OpScreenshot, core.Finder{}, core.WithTimeout(rt.timeout()))
		if err != nil {
			return err
		}
		result := rt.execute(ctx, req)
		if !result.Success {
			return cli.Exit(fmt.Sprintf("screenshot failed: %v", result.Error), 1)
		}

		path := result.Payload.ScreenshotPath
		if out := c.String("output"); out != "" {
			if err := os.Rename(path, out); err != nil {
				// Rename fails across filesystems; fall back to copy.
				data, rerr := os.ReadFile(path)
				if rerr != nil {
					return cli.Exit(fmt.Sprintf("cannot read capture: %v", rerr), 1)
				}
				if werr := os.WriteFile(out, data, 0o644); werr != nil {
					return cli.Exit(fmt.Sprintf("cannot write %s: %v", out, werr), 1)
				}
				_ = os.Remove(path)
			}
			path = out
		}
		fmt.Println(path)
		return nil
	},
}

var doctorCommand = &cli.Command{
	Name:  "doctor",
	Usage: "Check the environment for both backends",
	Action: func(c *cli.Context) error {
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.close()

		ok := true

		if rt.cfg.MaestroBin != "" {
			fmt.Printf("maestro binary: %s (configured)\n", rt.cfg.MaestroBin)
		} else if bin, err := maestro.FindBinary(); err == nil {
			fmt.Printf("maestro binary: %s\n", bin)
		} else {
			fmt.Println("maestro binary: NOT FOUND (accessibility layer unavailable)")
			ok = false
		}

		if _, err := exec.LookPath("adb"); err == nil {
			fmt.Println("adb: found (device log discovery available)")
		} else {
			fmt.Println("adb: not found (device log discovery unavailable)")
		}

		if rt.cfg.VMServiceURI != "" {
			fmt.Printf("runtime service: %s (configured)\n", rt.cfg.VMServiceURI)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			uri, err := rt.chain().Discover(ctx)
			cancel()
			if err == nil {
				fmt.Printf("runtime service: %s (discovered)\n", uri)
			} else {
				fmt.Println("runtime service: not discovered (widget tree unavailable until an app is running)")
			}
		}

		if rt.cfg.AppID == "" {
			fmt.Println("app id: not set (required for accessibility-layer flows)")
			ok = false
		} else {
			fmt.Printf("app id: %s\n", rt.cfg.AppID)
		}

		if !ok {
			return cli.Exit("", 1)
		}
		return nil
	},
}
