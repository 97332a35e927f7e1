package plog

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var levelColors = map[string]*color.Color{
	"DEBUG":    color.New(color.FgHiBlack),
	"NOTICE":   color.New(color.FgCyan),
	"WARNING":  color.New(color.FgYellow),
	"ERROR":    color.New(color.FgRed),
	"CRITICAL": color.New(color.FgHiRed, color.Bold),
}

func init() {
	// The console sink decides per writer, not from stdout like the package default.
	for _, c := range levelColors {
		c.EnableColor()
	}
}

// NewConsoleHandler is a LineHandler for an interactive console. The level
// column is colored when w is a terminal and NO_COLOR is unset.
func NewConsoleHandler(w io.Writer, level slog.Leveler) *LineHandler {
	h := NewLineHandler(w, level)
	h.color = isTerminal(w)
	return h
}

func isTerminal(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// levelColumn renders the padded level name, colored if requested.
func levelColumn(l slog.Level, colored bool) string {
	name := LevelName(l)
	padded := fmt.Sprintf("%-8s", name)
	if !colored {
		return padded
	}
	if c, ok := levelColors[name]; ok {
		return c.Sprint(padded)
	}
	return padded
}
