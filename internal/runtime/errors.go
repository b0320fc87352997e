package runtime

import (
	"errors"
	"fmt"
)

var (
	ErrRuntime = errors.New("runtime error")
)

// Reports a tool invocation that completed with a non-zero exit code.
type ExitError struct {
	Op     string // Operation that failed (build, push, ...).
	Code   int    // Process exit code.
	Detail string // Last stderr line, when the stream was captured.
}

func (e *ExitError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Op, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s exited with code %d", e.Op, e.Code)
}
