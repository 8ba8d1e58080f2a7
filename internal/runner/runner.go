// Package runner executes the external compareMS2 tools and streams their output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sentinel errors for process failures. Use errors.Is to classify.
var (
	ErrSpawn       = errors.New("failed to start process")
	ErrNonZeroExit = errors.New("process exited with nonzero status")
	ErrSignaled    = errors.New("process terminated by signal")
)

// DefaultGracePeriod is how long a cancelled process may take to exit after
// SIGTERM before it is killed.
const DefaultGracePeriod = 5 * time.Second

// Stream identifies the output stream a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// LogFunc receives process output one line at a time, as it is produced.
type LogFunc func(stream Stream, line string)

// Command describes one invocation of an external tool.
type Command struct {
	Path string
	Args []string
	Dir  string
	Log  LogFunc
	// GracePeriod overrides DefaultGracePeriod when positive.
	GracePeriod time.Duration
}

// ExitError carries the exit code of a failed process.
type ExitError struct {
	Path string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exit code %d", filepath.Base(e.Path), e.Code)
}

func (e *ExitError) Unwrap() error {
	return ErrNonZeroExit
}

var (
	tracerOnce sync.Once
	tracer     trace.Tracer
)

func getTracer() trace.Tracer {
	tracerOnce.Do(func() {
		tracer = otel.Tracer("github.com/524D/compareMS2/internal/runner")
	})
	return tracer
}

// Run starts the command, streams its output to cmd.Log and waits for it.
// Cancelling ctx sends SIGTERM to the process.
func Run(ctx context.Context, c Command) error {
	ctx, span := getTracer().Start(ctx, "runner.Run",
		trace.WithAttributes(
			attribute.String("exe", filepath.Base(c.Path)),
			attribute.Int("arg_count", len(c.Args)),
		),
	)
	defer span.End()

	err := run(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process failed")
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = c.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGracePeriod
	}

	stdout := &lineWriter{stream: Stdout, log: c.Log}
	stderr := &lineWriter{stream: Stderr, log: c.Log}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSpawn, c.Path, err)
	}
	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	if errors.Is(err, exec.ErrWaitDelay) {
		// The tool exited 0 but something it started kept the pipes open.
		slog.Warn("tool output still open after exit, log may be truncated",
			"exe", filepath.Base(c.Path), "wait_delay", cmd.WaitDelay)
		return nil
	}
	return classify(c.Path, err)
}

// maxLineLen bounds a buffered partial line.
const maxLineLen = 1024 * 1024

// lineWriter splits written bytes into lines for a LogFunc. Each stream gets
// its own writer, so stdout and stderr lines may be delivered concurrently.
type lineWriter struct {
	stream Stream
	log    LogFunc
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineLen {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// Flush delivers a trailing line without a newline.
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	if w.log != nil {
		w.log(w.stream, string(bytes.TrimRight(line, "\r")))
	}
}

func classify(path string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return &ExitError{Path: path, Code: code}
		}
		return fmt.Errorf("%w: %s: %s", ErrSignaled, filepath.Base(path), exitErr.ProcessState)
	}
	return fmt.Errorf("%w: %s: %w", ErrSignaled, filepath.Base(path), err)
}

// Executable reports whether path names a regular file that can be executed.
func Executable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode()&0o111 != 0
}
