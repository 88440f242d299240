package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetHome_EnvVar(t *testing.T) {
	ResetHome()
	t.Setenv("FLUTTERCTL_HOME", "/custom/path")

	got := GetHome()
	if got != "/custom/path" {
		t.Errorf("GetHome() = %q, want %q", got, "/custom/path")
	}
}

func TestGetHome_FallbackToCwd(t *testing.T) {
	ResetHome()
	t.Setenv("FLUTTERCTL_HOME", "")

	got := GetHome()
	cwd, _ := os.Getwd()

	// When not in a bin/ directory and no env var, should fall back to cwd
	// (unless the test binary happens to be in a bin/ directory)
	if got == "" {
		t.Error("GetHome() returned empty string")
	}
	_ = cwd // cwd is valid fallback
}

func TestGetHome_Cached(t *testing.T) {
	ResetHome()
	t.Setenv("FLUTTERCTL_HOME", "/first")

	first := GetHome()

	// Changing env should NOT affect the cached value
	t.Setenv("FLUTTERCTL_HOME", "/second")
	second := GetHome()

	if first != second {
		t.Errorf("GetHome() not cached: first=%q, second=%q", first, second)
	}
}

func TestGetLogDir(t *testing.T) {
	ResetHome()
	t.Setenv("FLUTTERCTL_HOME", "/test/home")

	got := GetLogDir()
	want := filepath.Join("/test/home", "logs")
	if got != want {
		t.Errorf("GetLogDir() = %q, want %q", got, want)
	}
}

func TestGetFlowDir(t *testing.T) {
	ResetHome()
	t.Setenv("FLUTTERCTL_HOME", "/test/home")

	got := GetFlowDir()
	want := filepath.Join("/test/home", "flows")
	if got != want {
		t.Errorf("GetFlowDir() = %q, want %q", got, want)
	}
}
