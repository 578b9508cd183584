// Package poll implements bounded exponential-backoff polling and retry
// for long-running remote operations.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Static errors for polling.
var (
	// ErrTimeout is returned when the overall polling deadline passes before completion.
	ErrTimeout = errors.New("poll: timed out")
	// ErrAttemptsExhausted is returned when MaxAttempts checks ran without completion.
	ErrAttemptsExhausted = errors.New("poll: attempts exhausted")
)

// Policy bounds a polling loop.
type Policy struct {
	// InitialInterval is the wait after the first pending check.
	InitialInterval time.Duration
	// MaxInterval caps the wait between checks.
	MaxInterval time.Duration
	// Multiplier grows the interval after each pending check. Values below 1 are treated as 1.
	Multiplier float64
	// MaxAttempts caps the number of checks. Zero means no cap (Timeout still applies).
	MaxAttempts int
	// Timeout bounds the whole loop. Zero means no deadline beyond the caller's context.
	Timeout time.Duration
}

// DefaultPolicy returns the policy used for remote file and execution polling.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		MaxAttempts:     60,
		Timeout:         10 * time.Minute,
	}
}

// Delay returns the wait before check number attempt+1 (attempt starts at 1).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialInterval)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxInterval > 0 && d >= float64(p.MaxInterval) {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && time.Duration(d) > p.MaxInterval {
		return p.MaxInterval
	}
	return time.Duration(d)
}

// CheckFunc inspects the remote operation once.
// It reports done=true when the operation reached its successful terminal state.
// A non-nil error wrapped with Retryable is treated as a transient failure and
// the loop continues; any other error stops the loop immediately.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Until runs check until it reports done, returns a fatal error, or the policy
// is exhausted. It returns the number of checks performed.
func Until(ctx context.Context, p Policy, check CheckFunc) (int, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		switch {
		case err == nil && done:
			return attempt, nil
		case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
			// The deadline expired while check was running.
			return attempt, fmt.Errorf("%w: %w", ErrTimeout, err)
		case err != nil && !IsRetryable(err):
			return attempt, err
		case err != nil:
			lastErr = err
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			if lastErr != nil {
				return attempt, fmt.Errorf("%w after %d checks: %w", ErrAttemptsExhausted, attempt, lastErr)
			}
			return attempt, fmt.Errorf("%w after %d checks", ErrAttemptsExhausted, attempt)
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				if lastErr != nil {
					return attempt, fmt.Errorf("%w: %w", ErrTimeout, lastErr)
				}
				return attempt, ErrTimeout
			}
			return attempt, fmt.Errorf("poll: cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy is exhausted.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Until(ctx, p, func(ctx context.Context) (bool, error) {
		if err := fn(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}
