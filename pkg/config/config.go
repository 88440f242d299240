// Package config handles configuration for flutterctl.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the workspace configuration (flutterctl.yaml).
type Config struct {
	// Target application
	AppID  string `yaml:"appId"`  // Bundle/application id launched by flows
	Device string `yaml:"device"` // Target device or emulator id

	// Accessibility-layer backend
	MaestroBin string `yaml:"maestroBin"` // Path to the maestro binary ("" = autodetect)
	FlowDir    string `yaml:"flowDir"`    // Where synthesized flow files are written
	Persistent bool   `yaml:"persistent"` // Keep a long-lived control subprocess

	// Widget-tree backend
	VMServiceURI string `yaml:"vmServiceUri"` // Known endpoint; skips discovery when set
	Host         string `yaml:"host"`         // Discovery host for the port scan
	PortStart    int    `yaml:"portStart"`    // Port scan range start
	PortEnd      int    `yaml:"portEnd"`      // Port scan range end

	// Execution
	TimeoutSeconds int    `yaml:"timeoutSeconds"` // Per-attempt timeout
	TraceFile      string `yaml:"traceFile"`      // JSONL attempt trace ("" = disabled)
	ScreenshotDir  string `yaml:"screenshotDir"`  // Where captures are written
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Host:           "127.0.0.1",
		PortStart:      9222,
		PortEnd:        9322,
		TimeoutSeconds: 30,
	}
}

// Load loads configuration from a file and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFromDir looks for flutterctl.yaml or flutterctl.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"flutterctl.yaml", "flutterctl.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	// No config file found, defaults plus environment.
	cfg := Default()
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays FLUTTERCTL_* variables. Environment beats file.
func (c *Config) applyEnv() {
	overlayString(&c.AppID, "FLUTTERCTL_APP_ID")
	overlayString(&c.Device, "FLUTTERCTL_DEVICE")
	overlayString(&c.MaestroBin, "FLUTTERCTL_MAESTRO_BIN")
	overlayString(&c.FlowDir, "FLUTTERCTL_FLOW_DIR")
	overlayString(&c.VMServiceURI, "FLUTTERCTL_VM_SERVICE_URI")
	overlayString(&c.Host, "FLUTTERCTL_HOST")
	overlayString(&c.TraceFile, "FLUTTERCTL_TRACE_FILE")
	overlayString(&c.ScreenshotDir, "FLUTTERCTL_SCREENSHOT_DIR")
	overlayBool(&c.Persistent, "FLUTTERCTL_PERSISTENT")
	overlayInt(&c.TimeoutSeconds, "FLUTTERCTL_TIMEOUT_SECONDS")
	overlayInt(&c.PortStart, "FLUTTERCTL_PORT_START")
	overlayInt(&c.PortEnd, "FLUTTERCTL_PORT_END")
}

func overlayString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overlayBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func overlayInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
