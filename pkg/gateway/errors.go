package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrConfigMissing means no model provider credentials are configured.
// Analysis runs refuse to start in this state.
var ErrConfigMissing = errors.New("model provider credentials missing")

// RateLimitedError is returned when the token bucket cannot admit a request.
// RetryAfter is when enough budget frees up for the same request.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

// BadModelOutputError means the model's response failed schema-constrained
// parsing even after the repair pass.
type BadModelOutputError struct {
	Reason string
	Raw    string
}

func (e *BadModelOutputError) Error() string {
	return fmt.Sprintf("bad model output: %s", e.Reason)
}

// ToolLoopExhaustedError means the model kept requesting tool calls past the
// turn budget without producing a final payload.
type ToolLoopExhaustedError struct {
	Turns int
}

func (e *ToolLoopExhaustedError) Error() string {
	return fmt.Sprintf("tool loop exhausted after %d turns", e.Turns)
}

// IsTransient reports whether err looks like a retryable upstream failure
// rather than one of the gateway's terminal error kinds.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitedError
	var bad *BadModelOutputError
	var loop *ToolLoopExhaustedError
	if errors.As(err, &rl) || errors.As(err, &bad) || errors.As(err, &loop) {
		return false
	}
	if errors.Is(err, ErrConfigMissing) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
