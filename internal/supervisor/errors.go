package supervisor

import (
	"errors"
	"fmt"
)

// StartFailedError reports a backend process that could not be spawned or
// exited before emitting its readiness marker. It carries the exact
// command issued and a bounded tail of captured stderr for diagnostics.
type StartFailedError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *StartFailedError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("start failed: %v (cmd: %s; stderr tail: %s)", e.Err, e.Command, e.Stderr)
	}
	return fmt.Sprintf("start failed: %v (cmd: %s)", e.Err, e.Command)
}

func (e *StartFailedError) Unwrap() error { return e.Err }

// IsStartFailed reports whether err indicates a failed backend start.
func IsStartFailed(err error) bool {
	var sf *StartFailedError
	return errors.As(err, &sf)
}

// UnknownProcessError reports a stop request for a handle that is not
// currently tracked.
type UnknownProcessError struct {
	Handle Handle
}

func (e *UnknownProcessError) Error() string {
	return fmt.Sprintf("unknown process handle: %s", e.Handle)
}

// IsUnknownProcess reports whether err indicates an untracked handle.
func IsUnknownProcess(err error) bool {
	var up *UnknownProcessError
	return errors.As(err, &up)
}
