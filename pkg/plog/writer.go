package plog

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// LineWriter turns a child process's output stream into log records, one per
// line. Partial lines are held until the newline arrives or Close is called.
type LineWriter struct {
	logger *slog.Logger
	level  slog.Level
	msg    string
	args   []any

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLineWriter logs each line as msg with a "line" attribute plus args.
func NewLineWriter(logger *slog.Logger, level slog.Level, msg string, args ...any) *LineWriter {
	return &LineWriter{logger: OrDefault(logger), level: level, msg: msg, args: args}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := w.buf.Next(i + 1)
		w.emit(line[:i])
	}
	return len(p), nil
}

// Close flushes a trailing line without newline.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
	return nil
}

func (w *LineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	args := append([]any{"line", string(line)}, w.args...)
	w.logger.Log(context.Background(), w.level, w.msg, args...)
}
