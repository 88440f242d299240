package cli

import (
	"flag"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/flutterctl/pkg/core"
)

// testContext builds a cli context carrying the exec command's flags.
func testContext(t *testing.T, args map[string]string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, name := range []string{"text", "id", "key", "type", "input", "direction", "backend"} {
		set.String(name, "", "")
	}
	set.Duration("timeout", 0, "")
	set.Bool("no-fallback", false, "")
	for k, v := range args {
		if err := set.Set(k, v); err != nil {
			t.Fatal(err)
		}
	}
	return cli.NewContext(nil, set, nil)
}

func TestBuildRequest_TapText(t *testing.T) {
	c := testContext(t, map[string]string{"text": "Submit"})

	req, err := buildRequest(c, 30*time.Second, core.OpTap)
	if err != nil {
		t.Fatal(err)
	}
	if req.Operation != core.OpTap {
		t.Errorf("operation = %v", req.Operation)
	}
	if req.Finder.Text != "Submit" {
		t.Errorf("finder = %+v", req.Finder)
	}
	if req.Timeout != 30*time.Second {
		t.Errorf("timeout = %v", req.Timeout)
	}
	if !req.Fallback {
		t.Error("fallback should default to enabled")
	}
}

func TestBuildRequest_FlagTimeoutWins(t *testing.T) {
	c := testContext(t, map[string]string{"key": "login", "timeout": "5s"})

	req, err := buildRequest(c, 30*time.Second, core.OpTap)
	if err != nil {
		t.Fatal(err)
	}
	if req.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", req.Timeout)
	}
}

func TestBuildRequest_BackendOverride(t *testing.T) {
	c := testContext(t, map[string]string{"text": "Submit", "backend": "widget-tree"})

	req, err := buildRequest(c, 30*time.Second, core.OpTap)
	if err != nil {
		t.Fatal(err)
	}
	if req.Override != core.BackendWidgetTree {
		t.Errorf("override = %v", req.Override)
	}
}

func TestBuildRequest_UnknownBackend(t *testing.T) {
	c := testContext(t, map[string]string{"text": "Submit", "backend": "carrier-pigeon"})

	if _, err := buildRequest(c, 30*time.Second, core.OpTap); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuildRequest_TwoFindersRejected(t *testing.T) {
	c := testContext(t, map[string]string{"text": "Submit", "key": "submit_btn"})

	_, err := buildRequest(c, 30*time.Second, core.OpTap)
	if core.KindOf(err) != core.ErrKindValidation {
		t.Fatalf("kind = %v, want validation", core.KindOf(err))
	}
}

func TestBuildRequest_SwipeNeedsDirection(t *testing.T) {
	c := testContext(t, nil)
	if _, err := buildRequest(c, 30*time.Second, core.OpSwipe); err == nil {
		t.Fatal("expected error")
	}

	c = testContext(t, map[string]string{"direction": "up"})
	req, err := buildRequest(c, 30*time.Second, core.OpSwipe)
	if err != nil {
		t.Fatal(err)
	}
	if req.Direction != core.SwipeUp {
		t.Errorf("direction = %v", req.Direction)
	}
}

func TestBuildRequest_NoFallback(t *testing.T) {
	c := testContext(t, map[string]string{"text": "Submit", "no-fallback": "true"})

	req, err := buildRequest(c, 30*time.Second, core.OpTap)
	if err != nil {
		t.Fatal(err)
	}
	if req.Fallback {
		t.Error("fallback should be disabled")
	}
}

func TestViewOf(t *testing.T) {
	err := core.ErrElementNotFound.
		WithMessage("no match").
		WithBackend(core.BackendAccessibilityLayer)

	view := viewOf(err)
	if view.Kind != "element_not_found" {
		t.Errorf("kind = %q", view.Kind)
	}
	if view.Backend != "accessibility" {
		t.Errorf("backend = %q", view.Backend)
	}
	if view.Message != "no match" {
		t.Errorf("message = %q", view.Message)
	}
}
