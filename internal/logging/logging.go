// ============================================================================
// Logging setup
// ============================================================================
//
// Package: internal/logging
// File: logging.go
// Function: builds the process slog.Logger from the logging config section
//
// Output goes to stderr unless a file is configured, in which case it is
// written through lumberjack with size-based rotation.
//
// ============================================================================

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/config"
)

// Setup builds a logger for cfg. The returned closer releases the log file
// and is a no-op for stderr output.
func Setup(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w, closer = rotator, rotator
	}

	return slog.New(NewHandler(w, cfg.Format, level)), closer, nil
}

// NewHandler returns a text or JSON handler writing to w.
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel accepts debug, info, warn and error. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("logging: invalid level %q", s)
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
