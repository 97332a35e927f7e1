// Package hints labels errors that mean "this stage had nothing to do".
//
// A pipeline stage that finds no files to compress or no archives to prune
// returns a hint instead of nil so the caller can log the skip. Callers check
// IsHint and keep going; any other error stops the run.
package hints

import (
	"errors"
	"fmt"
)

type hint struct {
	err error
}

func (h *hint) Error() string {
	if h == nil || h.err == nil {
		return "unknown hint"
	}
	return h.err.Error()
}

func (h *hint) IsHint() bool  { return true }
func (h *hint) Unwrap() error { return h.err }

// New creates a hint from a string.
func New(msg string) error {
	return &hint{err: errors.New(msg)}
}

// Newf creates a hint that wraps a sentinel with extra context, keeping errors.Is working.
func Newf(format string, args ...any) error {
	return &hint{err: fmt.Errorf(format, args...)}
}

// IsHint checks if any error in the chain behaves like a hint.
func IsHint(err error) bool {
	var h interface{ IsHint() bool }
	return errors.As(err, &h) && h.IsHint()
}

// Is checks if the error is a hint AND matches the target error.
func Is(err, target error) bool {
	return IsHint(err) && errors.Is(err, target)
}
