// Package biometric asks the platform for a fresh biometric or device
// credential assertion before the API key is decrypted.
package biometric

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means no biometric or device credential is enrolled.
	// Retrying will not help until enrollment changes.
	ErrUnavailable = errors.New("biometric unavailable")
	// ErrCancelled means the user dismissed the prompt.
	ErrCancelled = errors.New("biometric prompt cancelled")
	// ErrFailed means the user did not pass the check.
	ErrFailed = errors.New("biometric authentication failed")
)

// Gate runs a user-interactive assertion. A nil error means the user passed;
// otherwise the error wraps ErrUnavailable, ErrCancelled or ErrFailed.
// Cancelling ctx cancels the prompt and yields ErrCancelled.
type Gate interface {
	Authenticate(ctx context.Context, reason string) error
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, reason string) error

func (f GateFunc) Authenticate(ctx context.Context, reason string) error {
	return f(ctx, reason)
}

// Retryable reports whether err is a denial the user can retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrFailed)
}
