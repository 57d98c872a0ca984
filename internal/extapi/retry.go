// Package extapi holds the outbound API clients (holiday calendar, text
// generation) and the shared bounded-retry policy wrapping them.
package extapi

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"wishbot/pkg/logx"
)

const (
	// maxAttempts bounds every outbound call; there is deliberately no
	// separate permanent-error class, so a malformed request burns the
	// full attempt budget like a transient one.
	maxAttempts = 3
	baseDelay   = 500 * time.Millisecond
)

// ExhaustedError is returned after every attempt of a call has failed.
// It carries only the last error.
type ExhaustedError struct {
	Label    string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Label, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Retrier applies the fixed exponential policy: up to 3 attempts with
// 500ms and 1s delays between them, no jitter.
type Retrier struct {
	log logx.Logger
}

func NewRetrier(log logx.Logger) *Retrier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Retrier{log: log}
}

func (r *Retrier) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)
}

// Call runs op under the retry policy, returning its result or an
// *ExhaustedError wrapping the last failure. op must be idempotent and
// side-effect-free on failure.
func Call[T any](ctx context.Context, r *Retrier, label string, op func(ctx context.Context) (T, error)) (T, error) {
	var (
		out     T
		attempt int
	)
	err := backoff.Retry(func() error {
		attempt++
		v, err := op(ctx)
		if err != nil {
			r.log.Warn("outbound call failed",
				logx.String("call", label),
				logx.Int("attempt", attempt),
				logx.Err(err))
			return err
		}
		out = v
		return nil
	}, r.policy(ctx))
	if err != nil {
		var zero T
		return zero, &ExhaustedError{Label: label, Attempts: attempt, Last: err}
	}
	return out, nil
}
