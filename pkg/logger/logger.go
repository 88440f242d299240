// Package logger is the process-wide diagnostic log. Output goes to a
// file so it never interleaves with command results on stdout; verbose
// mode additionally echoes to stderr.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

var (
	mu           sync.Mutex
	globalLogger *log.Logger
	logFile      *os.File
	verbose      bool
)

// Init initializes the global logger with the specified log file path,
// creating parent directories as needed.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
	}

	if dir := filepath.Dir(logPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	globalLogger = log.New(f, "", log.Ltime|log.Lmicroseconds)

	return nil
}

// SetVerbose additionally echoes every message to stderr.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
		globalLogger = nil
	}
}

func logf(level, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Printf("["+level+"] "+format, v...)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "["+level+"] "+format+"\n", v...)
	}
}

// Info logs an info message.
func Info(format string, v ...interface{}) { logf("INFO", format, v...) }

// Debug logs a debug message.
func Debug(format string, v ...interface{}) { logf("DEBUG", format, v...) }

// Warn logs a warning message.
func Warn(format string, v ...interface{}) { logf("WARN", format, v...) }

// Error logs an error message.
func Error(format string, v ...interface{}) { logf("ERROR", format, v...) }

// GetWriter returns the underlying writer, for wiring subprocess stderr
// into the log.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}
