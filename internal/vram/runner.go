package vram

import (
	"context"
	"os/exec"
)

// CommandRunner executes an external tool and returns its stdout. Tests
// substitute a fake to feed canned tool output.
type CommandRunner interface {
	Run(ctx context.Context, bin string, args ...string) ([]byte, error)
}

// ExecRunner runs tools via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, bin, args...).Output()
}
