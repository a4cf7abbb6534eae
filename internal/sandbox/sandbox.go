// Package sandbox runs external search binaries (rg, fd) either as host
// process groups or inside throwaway docker containers, always under a hard
// wall-clock timeout.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// DefaultCmdTimeout is the hard limit for one subprocess.
const DefaultCmdTimeout = 60 * time.Second

// ErrTimedOut is returned when a command exceeded its timeout. It is
// distinct from a non-zero exit code, which is reported through Result.Code.
var ErrTimedOut = errors.New("command timed out")

// Result captures output of a command.
type Result struct {
	Stdout   string
	Stderr   string
	Code     int
	TimedOut bool
}

// Runner defines the interface for running commands in a sandboxed environment.
type Runner interface {
	// RunCmd runs a command in dir with a timeout.
	// - ctx: base context for cancellation
	// - dir: working directory on disk
	// - name: executable name, e.g. "rg"
	// - args: arguments
	// - timeout: optional timeout (<=0 uses the runner default)
	//
	// A command that ran to completion returns a nil error whatever its exit
	// code. Timeouts return ErrTimedOut and cancellation returns ctx.Err().
	RunCmd(ctx context.Context, dir, name string, args []string, timeout time.Duration) (Result, error)
}

func effectiveTimeout(timeout time.Duration, cfg Config) time.Duration {
	if timeout > 0 {
		return timeout
	}
	if cfg.CmdTimeout > 0 {
		return cfg.CmdTimeout
	}
	return DefaultCmdTimeout
}
