// Package plog configures the application's slog loggers.
//
// Every record is rendered as a single line:
//
//	Fri 2025-06-27 14:47:03 - INFO     Staged files count=1532
//
// A run writes to two sinks at once: the log file, filtered at the configured
// level, and the console (stderr), which always receives debug output.
package plog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/portal-backup/pkg/util"
)

// Levels understood by the line handler. NOTICE and CRITICAL sit between the
// standard slog levels.
const (
	LevelDebug    = slog.LevelDebug
	LevelInfo     = slog.LevelInfo
	LevelNotice   = slog.Level(2)
	LevelWarn     = slog.LevelWarn
	LevelError    = slog.LevelError
	LevelCritical = slog.Level(12)
)

// TimeLayout is the timestamp layout at the start of each line.
const TimeLayout = "Mon 2006-01-02 15:04:05"

// LevelName returns the upper-case name written for a level.
func LevelName(l slog.Level) string {
	switch {
	case l >= LevelCritical:
		return "CRITICAL"
	case l >= LevelError:
		return "ERROR"
	case l >= LevelWarn:
		return "WARNING"
	case l >= LevelNotice:
		return "NOTICE"
	case l >= LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// LevelFromString parses a configured level name.
func LevelFromString(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "notice":
		return LevelNotice, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "critical":
		return LevelCritical, nil
	}
	return LevelInfo, fmt.Errorf("invalid log level: %q. Must be 'debug', 'info', 'notice', 'warn', 'error' or 'critical'", s)
}

// LineHandler is a slog.Handler that writes "<time> - <LEVEL> <message> key=value" lines.
type LineHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	prefix string // pre-rendered attributes from WithAttrs
	group  string
	color  bool
}

// NewLineHandler returns a handler writing records at or above level to w.
func NewLineHandler(w io.Writer, level slog.Leveler) *LineHandler {
	if level == nil {
		level = LevelInfo
	}
	return &LineHandler{mu: &sync.Mutex{}, w: w, level: level}
}

// Enabled reports whether the record level reaches the handler's minimum.
func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle renders and writes a single record.
func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(ts.Format(TimeLayout))
	b.WriteString(" - ")
	b.WriteString(levelColumn(r.Level, h.color))
	b.WriteByte(' ')
	b.WriteString(r.Message)
	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs returns a handler that appends attrs to every line.
func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		writeAttr(&b, h.group, a)
	}
	clone := *h
	clone.prefix = b.String()
	return &clone
}

// WithGroup returns a handler that qualifies subsequent keys with name.
func (h *LineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	val := a.Value.String()
	if strings.ContainsAny(val, " \t\n\"=") || val == "" {
		val = strconv.Quote(val)
	}
	b.WriteString(val)
}

// FanoutHandler passes every record to each handler that accepts its level.
type FanoutHandler struct {
	handlers []slog.Handler
}

// NewFanoutHandler combines handlers into one.
func NewFanoutHandler(handlers ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{handlers: handlers}
}

// Enabled checks if the level is enabled for any of the underlying handlers.
func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle dispatches the record to every handler that accepts it.
func (h *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithAttrs returns a new FanoutHandler with the given attributes added.
func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: next}
}

// WithGroup returns a new FanoutHandler with the given group.
func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &FanoutHandler{handlers: next}
}

// Options configures Open.
type Options struct {
	// FilePath is the append-only log file. Empty disables the file sink.
	FilePath string
	// FileLevel is the minimum level persisted to the file.
	FileLevel slog.Level
	// Console receives every record at debug level. Defaults to os.Stderr.
	Console io.Writer
}

// Sink owns the log file behind a logger built by Open.
type Sink struct {
	Logger *slog.Logger
	file   *os.File
}

// Open builds the two-sink logger. The log file is opened in append mode and
// its directory must already exist.
func Open(opts Options) (*Sink, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	handlers := []slog.Handler{NewConsoleHandler(console, LevelDebug)}

	s := &Sink{}
	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, util.UserWritableFilePerms)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file %s: %w", opts.FilePath, err)
		}
		s.file = f
		handlers = append(handlers, NewLineHandler(f, opts.FileLevel))
	}
	s.Logger = slog.New(NewFanoutHandler(handlers...))
	return s, nil
}

// Close closes the log file if one was opened.
func (s *Sink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

var defaultLogger atomic.Pointer[slog.Logger]

func init() {
	defaultLogger.Store(slog.New(NewLineHandler(os.Stderr, LevelDebug)))
}

// Default returns the process-wide logger used by the cmd layer.
func Default() *slog.Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *slog.Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// SetOutput allows redirecting the logger's output, primarily for testing.
func SetOutput(w io.Writer) {
	defaultLogger.Store(slog.New(NewLineHandler(w, LevelDebug)))
}

// OrDefault returns l, or the process-wide logger when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Default()
	}
	return l
}

// Debug logs a debug message.
func Debug(msg string, args ...any) { Default().Log(context.Background(), LevelDebug, msg, args...) }

// Info logs an informational message.
func Info(msg string, args ...any) { Default().Log(context.Background(), LevelInfo, msg, args...) }

// Notice logs a message about a change made on disk.
func Notice(msg string, args ...any) { Default().Log(context.Background(), LevelNotice, msg, args...) }

// Warn logs a warning message.
func Warn(msg string, args ...any) { Default().Log(context.Background(), LevelWarn, msg, args...) }

// Error logs an error message.
func Error(msg string, args ...any) { Default().Log(context.Background(), LevelError, msg, args...) }
