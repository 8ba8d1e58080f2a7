package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger creates a dual-output logger: text to stderr, JSON to logFile.
// An empty logFile, or one that cannot be opened, logs to stderr only.
// Returns the logger and a cleanup function to close the file.
func SetupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	noop := func() error { return nil }
	stderrOnly := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if logFile == "" {
		return stderrOnly, noop
	}

	file, err := openLogFile(logFile)
	if err != nil {
		stderrOnly.Error("failed to open log file, using stderr only", "error", err, "file", logFile)
		return stderrOnly, noop
	}

	return SetupLoggerWithWriters(os.Stderr, file, level), file.Close
}

// openLogFile opens logFile for appending, creating its directory.
func openLogFile(logFile string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// SetupLoggerWithWriters creates the fanout logger over custom writers.
// The file side gets every record as JSON with the process ID attached.
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}).
		WithAttrs([]slog.Attr{slog.Int("pid", os.Getpid())})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
}
