// Package cli provides the command-line interface for flutterctl.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Directory containing flutterctl.yaml (default: current directory)",
		EnvVars: []string{"FLUTTERCTL_CONFIG_DIR"},
	},
	&cli.StringFlag{
		Name:    "app-id",
		Usage:   "Application/bundle id the flows launch",
		EnvVars: []string{"FLUTTERCTL_APP_ID"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"udid"},
		Usage:   "Device or emulator id to run against",
		EnvVars: []string{"FLUTTERCTL_DEVICE"},
	},
	&cli.StringFlag{
		Name:    "maestro-bin",
		Usage:   "Path to the maestro binary (default: autodetect)",
		EnvVars: []string{"FLUTTERCTL_MAESTRO_BIN"},
	},
	&cli.BoolFlag{
		Name:    "persistent",
		Usage:   "Keep a long-lived control subprocess for accessibility-layer operations",
		EnvVars: []string{"FLUTTERCTL_PERSISTENT"},
	},
	&cli.StringFlag{
		Name:    "vm-service-uri",
		Usage:   "Known runtime service endpoint (skips discovery)",
		EnvVars: []string{"FLUTTERCTL_VM_SERVICE_URI"},
	},
	&cli.StringFlag{
		Name:    "trace-file",
		Usage:   "Append per-attempt trace records to this JSONL file",
		EnvVars: []string{"FLUTTERCTL_TRACE_FILE"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Echo diagnostic logging to stderr",
		EnvVars: []string{"FLUTTERCTL_VERBOSE"},
	},
}

// Execute runs the CLI.
func Execute() {
	app := &cli.App{
		Name:    "flutterctl",
		Usage:   "Multi-backend UI automation for Flutter apps",
		Version: Version,
		Description: `flutterctl drives a running Flutter app through whichever backend can
serve the request: the platform accessibility layer (via maestro) or the
widget tree (via the Dart VM service), falling back between them.

Examples:
  flutterctl exec tap --text "Submit"
  flutterctl exec assertVisible --key login_button --backend widget-tree
  flutterctl run smoke.yaml
  flutterctl discover
  flutterctl tree > tree.json
  flutterctl screenshot -o shot.png`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			execCommand,
			runCommand,
			discoverCommand,
			treeCommand,
			screenshotCommand,
			doctorCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
