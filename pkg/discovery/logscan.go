package discovery

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
)

// serviceURIPattern matches the endpoint banner the runtime prints on
// startup. The capture keeps the auth-token path segment intact.
var serviceURIPattern = regexp.MustCompile(
	`(?:VM [Ss]ervice\s+is\s+)?listening on:?\s+(https?://[^\s"]+)`)

// LogSource produces a snapshot of the device log. The reader is consumed
// fully and closed by the scanner.
type LogSource func(ctx context.Context) (io.ReadCloser, error)

// AdbLogSource snapshots the device log of the default adb target.
func AdbLogSource(ctx context.Context) (io.ReadCloser, error) {
	out, err := exec.CommandContext(ctx, "adb", "logcat", "-d").Output()
	if err != nil {
		return nil, fmt.Errorf("adb logcat: %w", err)
	}
	return io.NopCloser(strings.NewReader(string(out))), nil
}

// LogScan discovers the endpoint from the startup banner in the device
// log. The most recent banner wins: an app restarted with a new token
// invalidates earlier banners in the same log.
type LogScan struct {
	source LogSource
}

// NewLogScan returns a scanner over the given source, defaulting to the
// adb device log.
func NewLogScan(source LogSource) *LogScan {
	if source == nil {
		source = AdbLogSource
	}
	return &LogScan{source: source}
}

// Name implements Provider.
func (l *LogScan) Name() string { return "logscan" }

// Find implements Provider.
func (l *LogScan) Find(ctx context.Context) (string, error) {
	rc, err := l.source(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var last string
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if m := serviceURIPattern.FindStringSubmatch(scanner.Text()); m != nil {
			last = m[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading log: %w", err)
	}
	if last == "" {
		return "", fmt.Errorf("no endpoint banner in log")
	}
	return last, nil
}
