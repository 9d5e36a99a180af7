package biometric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Exit codes understood from a prompt helper.
const (
	exitFailed      = 1
	exitCancelled   = 2
	exitUnavailable = 3
)

// DefaultTimeout bounds how long a prompt may stay on screen.
const DefaultTimeout = 60 * time.Second

// CommandGate runs an external helper that shows the platform prompt, for
// example a small LocalAuthentication binary on macOS. The reason is passed
// as the helper's only argument. Exit status 0 means success, 1 failure,
// 2 cancellation and 3 no enrolled credential.
type CommandGate struct {
	command string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommandGate creates a gate for the given helper path. A zero timeout
// uses DefaultTimeout.
func NewCommandGate(command string, timeout time.Duration) *CommandGate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CommandGate{
		command: command,
		timeout: timeout,
		logger:  slog.With("component", "biometric"),
	}
}

func (g *CommandGate) Authenticate(ctx context.Context, reason string) error {
	if strings.TrimSpace(g.command) == "" {
		return fmt.Errorf("%w: no prompt helper configured", ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.command, reason)
	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		g.logger.Info("prompt abandoned", "error", ctx.Err())
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case exitFailed:
			return ErrFailed
		case exitCancelled:
			return ErrCancelled
		case exitUnavailable:
			return ErrUnavailable
		default:
			return fmt.Errorf("%w: helper exit code %d", ErrFailed, exitErr.ExitCode())
		}
	}

	// Missing or non-executable helper.
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
