// Package service runs the wrapped service as one opaque blocking step.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"sealgate/internal/gate"
)

// StoreEnv is set in the child's environment to the plaintext store path.
const StoreEnv = "SEALGATE_STORE"

// ExitError reports a wrapped service that exited with a non-zero status.
// Its code becomes the process exit code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("service exited with status %d", e.Code)
}

// ExitCode returns the child's exit status.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// ExecService runs a command as the wrapped service. When its context is
// cancelled the child receives SIGINT and has StopTimeout to exit before
// it is killed.
type ExecService struct {
	Command     []string
	StorePath   string
	StopTimeout time.Duration
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
	Logger      gate.Logger
}

var _ gate.Service = (*ExecService)(nil)

// Run starts the command and blocks until it exits. An exit caused by
// cancellation of ctx is a normal stop and returns nil.
func (s *ExecService) Run(ctx context.Context) error {
	if len(s.Command) == 0 {
		return fmt.Errorf("no service command configured")
	}

	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Env = append(os.Environ(), StoreEnv+"="+s.StorePath)
	cmd.Stdin = s.Stdin
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = s.StopTimeout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", s.Command[0], err)
	}
	s.logger().Info("service started", "command", s.Command[0], "pid", cmd.Process.Pid)

	err := cmd.Wait()
	if ctx.Err() != nil {
		s.logger().Info("service stopped after interrupt", "error", err)
		return nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("waiting for %s: %w", s.Command[0], err)
	}
	return nil
}

func (s *ExecService) logger() gate.Logger {
	if s.Logger == nil {
		return gate.NewNopLogger()
	}
	return s.Logger
}
