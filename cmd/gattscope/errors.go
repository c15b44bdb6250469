package main

import (
	"errors"

	"github.com/srg/gattscope/internal/session"
)

// FormatUserError renders an error for terminal output. Coordinator failures
// already carry a user-facing summary; local rejections read fine as-is.
func FormatUserError(err error) string {
	var opErr *session.OpError
	if errors.As(err, &opErr) {
		return opErr.Summary
	}
	if errors.Is(err, session.ErrBusy) {
		return "another operation is still in progress, try again"
	}
	return err.Error()
}
