//go:build !windows

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// HostRunner runs commands directly on the host machine without isolation.
type HostRunner struct {
	config Config
}

// NewHostRunner returns a host runner using cfg's default timeout.
func NewHostRunner(cfg Config) *HostRunner {
	return &HostRunner{config: cfg}
}

// RunCmd runs name in dir inside its own process group. The whole group is
// killed when the timeout fires or ctx is cancelled.
func (r *HostRunner) RunCmd(ctx context.Context, dir, name string, args []string, timeout time.Duration) (Result, error) {
	timeout = effectiveTimeout(timeout, r.config)

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return Result{}, err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-cctx.Done():
			// negative PID targets the process group
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	res := Result{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	// The parent ctx takes precedence so a user cancel is never reported as a timeout.
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.Code = -1
		return res, ErrTimedOut
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.Code = exitErr.ExitCode()
			return res, nil
		}
		return res, waitErr
	}
	return res, nil
}
