package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ErrTimeout is returned when a command does not finish within its deadline.
var ErrTimeout = errors.New("command timed out")

// Result holds the captured output of a finished command. A non-zero exit
// code is reported here, never as an error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Combined returns stdout followed by stderr, trimmed.
func (r *Result) Combined() string {
	return strings.TrimSpace(r.Stdout + r.Stderr)
}

// Runner executes external commands with a bounded timeout.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (*Result, error)
}

type execRunner struct{}

func NewRunner() Runner {
	return &execRunner{}
}

func (r *execRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	// Daemon control binaries fork helpers; on timeout the whole process
	// group has to go, not just the parent.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if runCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("%w: %s %s after %s", ErrTimeout, name, strings.Join(args, " "), timeout)
			}
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s %s after %s", ErrTimeout, name, strings.Join(args, " "), timeout)
		}
		return nil, fmt.Errorf("failed to run %s: %w", name, err)
	}
	return result, nil
}
