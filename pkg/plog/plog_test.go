package plog

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestLineHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLineHandler(&buf, LevelDebug))

	logger.Info("Staged files", "count", 3)

	line := buf.String()
	pattern := regexp.MustCompile(`^[A-Z][a-z]{2} \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} - INFO     Staged files count=3\n$`)
	if !pattern.MatchString(line) {
		t.Errorf("unexpected line format: %q", line)
	}
}

func TestLineHandlerLevelNames(t *testing.T) {
	testCases := []struct {
		level    slog.Level
		expected string
	}{
		{LevelDebug, " - DEBUG    msg"},
		{LevelInfo, " - INFO     msg"},
		{LevelNotice, " - NOTICE   msg"},
		{LevelWarn, " - WARNING  msg"},
		{LevelError, " - ERROR    msg"},
		{LevelCritical, " - CRITICAL msg"},
	}

	for _, tc := range testCases {
		t.Run(LevelName(tc.level), func(t *testing.T) {
			var buf bytes.Buffer
			slog.New(NewLineHandler(&buf, LevelDebug)).Log(context.Background(), tc.level, "msg")
			if !strings.Contains(buf.String(), tc.expected) {
				t.Errorf("expected %q in %q", tc.expected, buf.String())
			}
		})
	}
}

func TestLineHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLineHandler(&buf, LevelDebug)).With("job", "items").WithGroup("stage")

	logger.Info("done", "path", "/tmp/my dir", "empty", "")

	out := buf.String()
	for _, want := range []string{"job=items", `stage.path="/tmp/my dir"`, `stage.empty=""`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestLineHandlerUsesRecordTime(t *testing.T) {
	var buf bytes.Buffer
	h := NewLineHandler(&buf, LevelDebug)
	ts := time.Date(2025, 6, 27, 14, 47, 3, 0, time.Local)
	r := slog.NewRecord(ts, LevelInfo, "hello", 0)

	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "Fri 2025-06-27 14:47:03 - INFO") {
		t.Errorf("unexpected prefix: %q", buf.String())
	}
}

func TestFanoutLevels(t *testing.T) {
	var console, file bytes.Buffer
	logger := slog.New(NewFanoutHandler(
		NewLineHandler(&console, LevelDebug),
		NewLineHandler(&file, LevelInfo),
	))

	logger.Debug("debug message")
	logger.Info("info message")

	if !strings.Contains(console.String(), "debug message") || !strings.Contains(console.String(), "info message") {
		t.Errorf("console should receive every level, got: %s", console.String())
	}
	if strings.Contains(file.String(), "debug message") {
		t.Errorf("file should not receive debug output at info level, got: %s", file.String())
	}
	if !strings.Contains(file.String(), "info message") {
		t.Errorf("file should receive info output, got: %s", file.String())
	}
}

func TestOpen(t *testing.T) {
	t.Run("Appends to the log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "run.log")
		if err := os.WriteFile(path, []byte("previous line\n"), 0644); err != nil {
			t.Fatalf("failed to seed log file: %v", err)
		}

		var console bytes.Buffer
		sink, err := Open(Options{FilePath: path, FileLevel: LevelInfo, Console: &console})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		sink.Logger.Debug("console only")
		sink.Logger.Info("both sinks")
		if err := sink.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		content := string(data)
		if !strings.HasPrefix(content, "previous line\n") {
			t.Errorf("expected existing content to be kept, got: %q", content)
		}
		if strings.Contains(content, "console only") {
			t.Errorf("debug line leaked into info-level file: %q", content)
		}
		if !strings.Contains(content, "both sinks") {
			t.Errorf("expected info line in file: %q", content)
		}
		if !strings.Contains(console.String(), "console only") {
			t.Errorf("expected debug line on console: %q", console.String())
		}
	})

	t.Run("Fails when the directory is missing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "run.log")
		if _, err := Open(Options{FilePath: path}); err == nil {
			t.Fatal("expected an error for an uncreatable log file")
		}
	})
}

func TestLevelFromString(t *testing.T) {
	testCases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", LevelInfo, false},
		{"INFO", LevelInfo, false},
		{"debug", LevelDebug, false},
		{"warning", LevelWarn, false},
		{"verbose", LevelInfo, true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := LevelFromString(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("expected error=%v, got %v", tc.wantErr, err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestPackageHelpers(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	Notice("DELETE", "path", "old.zip")
	Warn("Interrupted, run aborted")

	out := buf.String()
	if !strings.Contains(out, "NOTICE   DELETE path=old.zip") {
		t.Errorf("expected notice line, got: %s", out)
	}
	if !strings.Contains(out, "WARNING  Interrupted, run aborted") {
		t.Errorf("expected warning line, got: %s", out)
	}
	if OrDefault(nil) != Default() {
		t.Error("OrDefault(nil) should return the default logger")
	}
}

func TestLevelColumn(t *testing.T) {
	if got := levelColumn(LevelWarn, false); got != "WARNING " {
		t.Errorf("expected padded plain level, got %q", got)
	}
	colored := levelColumn(LevelError, true)
	if !strings.Contains(colored, "ERROR   ") || !strings.Contains(colored, "\x1b[") {
		t.Errorf("expected an ANSI colored level, got %q", colored)
	}
	if got := levelColumn(LevelInfo, true); got != "INFO    " {
		t.Errorf("info stays uncolored, got %q", got)
	}
}

func TestConsoleHandlerPlainForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(&buf, LevelDebug)
	if h.color {
		t.Fatal("a buffer is not a terminal")
	}
	slog.New(h).Warn("plain")
	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("unexpected escape codes: %q", buf.String())
	}
}
