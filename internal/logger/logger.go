// Package logger configures the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Config controls where and how much is logged
type Config struct {
	// Verbose lowers the default level to debug. LOG_LEVEL still wins when set.
	Verbose bool
	// Output is the destination when LOG_FILE is unset. Defaults to stderr so command
	// output on stdout stays clean.
	Output io.Writer
}

// Init initializes the global slog logger from cfg and the LOG_LEVEL, LOG_FORMAT and
// LOG_FILE environment variables. The returned closer releases the log file, if any.
func Init(cfg Config) io.Closer {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = parseLevel(env)
	}
	opts := &slog.HandlerOptions{Level: level}

	var w io.Writer = os.Stderr
	if cfg.Output != nil {
		w = cfg.Output
	}
	var closer io.Closer = nopCloser{}

	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			slog.Error("failed to create log directory, using stderr only", "file", logFile, "error", err)
		} else {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				slog.Error("failed to open log file, using stderr only", "file", logFile, "error", err)
			} else {
				w = f
				closer = f
			}
		}
	}

	slog.SetDefault(slog.New(newHandler(w, opts)))
	return closer
}

func newHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if os.Getenv("LOG_FORMAT") == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewRequestLogger creates a logger with a unique request id for API handlers.
func NewRequestLogger() *slog.Logger {
	return slog.With("request_id", uuid.Must(uuid.NewV7()).String())
}

// Discard returns a logger that drops everything, for tests
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
