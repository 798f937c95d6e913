// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for reviewd's CLI and its
// C1-C9 components.
//
// reviewd is a one-shot command: it runs an iteration loop (or a single
// subcommand like scan/validate), logs to the terminal the operator invoked
// it from, and exits. That shapes the package around two destinations
// rather than the open-ended fan-out a long-running service would need:
//
//   - stderr, always: text when attached to a terminal, JSON lines when
//     redirected to a file or pipe (CI logs, nohup output), so the same
//     binary is pleasant to read interactively and easy to grep/jq
//     afterward without a separate flag to remember.
//   - an optional daily-rotating JSON file under LogDir, for runs the
//     operator wants to audit later (a `reviewd iterate` left running
//     overnight against a large repository).
//
// # Basic usage
//
//	logger := logging.Default()
//	logger.Info("run starting", "run_id", runID)
//	logger.Error("patch apply failed", "error", err)
//
// # File logging
//
//	logger := logging.New(logging.Config{
//	    Level:          logging.LevelInfo,
//	    LogDir:         "~/.reviewd/logs",  // ~ expands to the home dir
//	    Service:        "reviewd",
//	    MaxBacklogDays: 7,
//	})
//	defer logger.Close()
//
// This creates files named "{service}_{date}.log", one per day; files
// older than MaxBacklogDays are pruned each time New opens a fresh one.
//
// Every component below the CLI boundary (the orchestrator, the patch
// applier, the command runner) takes a plain *slog.Logger, obtained via
// Logger.Slog() once in cmd/reviewd's PersistentPreRun. This package only
// owns handler wiring; it is not threaded through the rest of the tree.
//
// # Thread safety
//
// Logger is safe for concurrent use; the underlying slog.Logger is
// thread-safe and the only mutable state (the file handle) is only ever
// touched by Close.
//
// # Security
//
// This package does not redact anything. Callers must keep API keys,
// tokens, and patch bodies out of log fields themselves — log presence
// ("token_present", true), not the value.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for tracing execution through the iteration loop
	// (per-patch validation detail, transport retry bookkeeping).
	LevelDebug Level = iota
	// LevelInfo is for run/iteration/commit milestones.
	LevelInfo
	// LevelWarn is for recoverable conditions: a transient transport
	// failure about to be retried, a schema rejection being re-prompted.
	LevelWarn
	// LevelError is for failures that end a run (fatal review.Error kinds).
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures New. A zero-value Config logs Debug+ (LevelDebug is the
// zero Level) to stderr, text on a terminal and JSON otherwise.
type Config struct {
	// Level is the minimum level written to any destination.
	Level Level

	// LogDir, if non-empty, enables a second destination: a daily JSON
	// file under this directory. Supports a leading "~" for the home
	// directory. The directory is created with 0750 if missing.
	LogDir string

	// Service names the component for the "service" attribute attached
	// to every record (and for the log file's name prefix). Typical
	// values: "reviewd", "orchestrator".
	Service string

	// JSON forces JSON-line output on stderr even when stderr is a
	// terminal. Set by --log-json. When false, stderr format is decided
	// by whether stderr is a terminal (see New).
	JSON bool

	// Quiet drops the stderr destination. File logging (if LogDir is set)
	// is unaffected. When no file destination is open either (LogDir empty
	// or unusable), New falls back to a stderr text handler, so Quiet only
	// silences stderr together with a working LogDir.
	Quiet bool

	// MaxBacklogDays bounds how many daily log files are kept under
	// LogDir; files older than this many days (by filename date) are
	// removed each time New opens a fresh one. Zero disables pruning.
	MaxBacklogDays int
}

// Logger wraps slog.Logger with reviewd's stderr+file handler wiring and
// Close semantics for the optional log file.
type Logger struct {
	slog *slog.Logger
	file *os.File
	mu   sync.Mutex
}

// New builds a Logger per config. stderr format (when not Quiet) is text
// if stderr is a terminal (checked via go-isatty, covering both real and
// Cygwin/MSYS terminals) and config.JSON is false; JSON otherwise, so a
// run piped into a file or CI log collector gets machine-parseable output
// without the operator having to pass --log-json by hand.
func New(config Config) *Logger {
	var handlers []slog.Handler
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	if !config.Quiet {
		stderrJSON := config.JSON || !isTerminal(os.Stderr)
		if stderrJSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	logger := &Logger{}

	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0750); err == nil {
			service := config.Service
			if service == "" {
				service = "reviewd"
			}
			logPath := filepath.Join(logDir, fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02")))
			if file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640); err == nil {
				logger.file = file
				handlers = append(handlers, slog.NewJSONHandler(file, opts))
				if config.MaxBacklogDays > 0 {
					pruneBacklog(logDir, service, config.MaxBacklogDays)
				}
			}
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// isTerminal reports whether f is attached to an interactive terminal,
// covering the Cygwin/MSYS pty case go-isatty needs a second call for.
func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Default returns an Info-level, stderr-only, terminal-aware logger
// tagged "service=reviewd". Suitable for subcommands that don't load a
// config.Config (e.g. `reviewd version`).
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "reviewd"})
}

// Debug logs at Debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at Info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at Warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at Error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child logger carrying args on every subsequent record.
// The child shares the parent's file handle; only the original Logger
// returned by New should be Close()d.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), file: l.file}
}

// Slog returns the underlying *slog.Logger, which is what every C1-C9
// component actually receives — this package's job ends at handler setup.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file, if one is open. Safe to call on a
// Logger built without LogDir (a no-op) or on a child from With (also a
// no-op, since children don't own the file).
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	return l.file.Close()
}

// multiHandler fans a record out to every handler enabled for its level,
// so stderr and the log file can run different formats (text vs JSON)
// from one Logger.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

var _ slog.Handler = (*multiHandler)(nil)

// expandPath expands a leading "~" to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// pruneBacklog removes "{service}_{date}.log" files under dir whose date
// suffix is older than maxDays before today. Parse failures and stat
// errors on individual entries are skipped rather than aborting the prune.
func pruneBacklog(dir, service string, maxDays int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -maxDays)
	prefix := service + "_"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) != len(prefix)+len("2006-01-02")+len(".log") || name[:len(prefix)] != prefix {
			continue
		}
		dateStr := name[len(prefix) : len(name)-len(".log")]
		ts, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
}
