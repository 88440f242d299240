package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/flutterctl/pkg/core"
	"github.com/devicelab-dev/flutterctl/pkg/script"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run a YAML step script",
	ArgsUsage: "<script.yaml>",
	Description: `Executes the script's steps in order through the backend engine.
Stops at the first failed step unless the script sets continueOnFailure
or --continue-on-failure is given.

Example script:
  name: login smoke
  steps:
    - tap: "Log in"
    - enterText:
        key: email_field
        input: user@example.com
    - assertVisible:
        text: Welcome
        timeout: 10s
    - screenshot`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "check",
			Usage: "Parse and validate the script without executing it",
		},
		&cli.BoolFlag{
			Name:  "continue-on-failure",
			Usage: "Keep executing after a failed step",
		},
	},
	Action: runScript,
}

func runScript(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("run takes exactly one script file argument", 2)
	}

	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.close()

	s, err := script.ParseFile(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if err := s.Validate(rt.timeout()); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if c.Bool("check") {
		fmt.Printf("%s: %d steps, ok\n", s.SourcePath, len(s.Steps))
		return nil
	}
	if c.Bool("continue-on-failure") {
		s.ContinueOnFailure = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := 0
	for i := range s.Steps {
		if ctx.Err() != nil {
			return cli.Exit("interrupted", 1)
		}
		step := &s.Steps[i]
		req, err := step.Request(rt.timeout())
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}

		result := rt.execute(ctx, req)
		printStep(i+1, len(s.Steps), step, result)
		if !result.Success {
			failed++
			if !s.ContinueOnFailure {
				break
			}
		}
	}

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d steps failed", failed, len(s.Steps)), 1)
	}
	return nil
}

func printStep(n, total int, step *script.Step, result *core.AutomationResult) {
	target := ""
	if step.Finder != (core.Finder{}) {
		target = step.Finder.Describe()
	}
	status := fmt.Sprintf("ok (%s)", result.BackendUsed)
	if result.FallbackOccurred {
		status = fmt.Sprintf("ok (%s, after fallback)", result.BackendUsed)
	}
	if !result.Success {
		status = fmt.Sprintf("FAILED (%s: %s)", result.Error.Kind, result.Error.Message)
	}
	if target != "" {
		fmt.Printf("[%d/%d] %s %s ... %s\n", n, total, step.Operation, target, status)
	} else {
		fmt.Printf("[%d/%d] %s ... %s\n", n, total, step.Operation, status)
	}
}
