// Package logging provides structured logging with file output support.
// It uses environment variables for configuration and supports file cleanup.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// FilePattern matches the files written when REGSCAN_LOG_TO_FILE=1.
const FilePattern = "regscan-*-debug.log"

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
	path   string
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// Path returns the log file being written, or "" when logging to a stream.
func (lc *LoggerCloser) Path() string {
	return lc.path
}

// Level parses a REGSCAN_LOG_LEVEL value. Unknown values mean info.
func Level(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	lg.SetLevel(Level(os.Getenv("REGSCAN_LOG_LEVEL")))

	prefix := os.Getenv("REGSCAN_LOG_PREFIX")
	if prefix == "" {
		prefix = "regscan "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr && w != os.Stdout {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a new logger based on environment variables
// REGSCAN_LOG_LEVEL: debug, info, warn, error (default: info)
// REGSCAN_LOG_PREFIX: prefix for log messages (default: "regscan ")
// REGSCAN_LOG_TO_FILE: when set to "1", logs to a timestamped file instead of stderr
func NewLogger() *LoggerCloser {
	if os.Getenv("REGSCAN_LOG_TO_FILE") == "1" {
		logFile := fmt.Sprintf("regscan-%s-debug.log", time.Now().Format("20060102-150405"))
		if f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644); err == nil {
			lc := NewLoggerWithWriter(f)
			lc.path = logFile
			return lc
		}
		// If file creation fails, fall back to stderr
	}
	return NewLoggerWithWriter(os.Stderr)
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return os.Getenv("REGSCAN_LOG_LEVEL") == "debug"
}

// Latest returns the newest log file in dir written by NewLogger.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, FilePattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no %s in %s", FilePattern, dir)
	}
	// Timestamps in the name sort chronologically.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
