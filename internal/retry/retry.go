// Package retry runs ledger operations under a bounded attempt policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// DefaultMaxAttempts is the attempt cap for ledger-bound operations.
const DefaultMaxAttempts = 3

// Policy controls how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialInterval is the first delay between attempts. Zero retries immediately.
	InitialInterval time.Duration
	// MaxInterval caps the exponential delay.
	MaxInterval time.Duration
	// Retryable classifies failures. Nil means every error is retryable.
	Retryable func(error) bool
	// Op names the operation in logs.
	Op string
	// Log receives one entry per failed attempt.
	Log zerolog.Logger
}

// DefaultPolicy returns the policy used for capsule transactions.
func DefaultPolicy(op string, logger zerolog.Logger) Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Op:              op,
		Log:             logger,
	}
}

// Operation is one attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

func (p Policy) backOff() backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.InitialInterval > 0 {
		b = backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(p.InitialInterval),
			backoff.WithMaxInterval(p.MaxInterval),
			backoff.WithMaxElapsedTime(0),
		)
	}
	n := p.MaxAttempts
	if n < 1 {
		n = 1
	}
	return backoff.WithMaxRetries(b, uint64(n-1))
}

// Do runs op until it succeeds, fails with a non-retryable error, the
// attempts are exhausted or ctx is done. It returns the number of attempts
// made and the last error.
func Do(ctx context.Context, p Policy, op Operation) (int, error) {
	attempts := 0
	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		err := op(ctx, attempts)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(p.backOff(), ctx), func(err error, next time.Duration) {
		p.Log.Warn().
			Err(err).
			Str("op", p.Op).
			Int("attempt", attempts).
			Int("max_attempts", p.MaxAttempts).
			Dur("next_in", next).
			Msg("attempt failed, retrying")
	})
	if err != nil {
		p.Log.Error().Err(err).Str("op", p.Op).Int("attempts", attempts).Msg("operation failed")
	}
	return attempts, err
}
