// Package retry runs an operation with exponential backoff until it succeeds,
// fails permanently, runs out of attempts, or its context ends.
//
// The client uses it to wait for a bridge that is still starting up:
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 20, InitialBackoff: 50 * time.Millisecond},
//	    func(ctx context.Context) error { return c.Health(ctx) },
//	    nil)
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Config defines the backoff schedule.
type Config struct {
	// MaxAttempts is the number of calls made before giving up. Values below
	// one mean a single attempt.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure. Each further wait
	// doubles it.
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter adds up to this fraction of the wait at random (0.0 to 1.0).
	Jitter float64
}

// ShouldRetryFunc reports whether err is worth another attempt. A nil
// ShouldRetryFunc retries every error not marked with Permanent.
type ShouldRetryFunc func(error) bool

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it returns nil. A permanent error, or one rejected by
// shouldRetry, is returned as is. When every attempt fails, the last error is
// wrapped with the attempt count. Context cancellation during a wait returns
// the context error.
func Do(ctx context.Context, cfg Config, fn func(context.Context) error, shouldRetry ShouldRetryFunc) error {
	attempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(Backoff(cfg, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// Backoff returns the wait before retry number attempt (1-based).
func Backoff(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	backoff := time.Duration(math.Pow(2, float64(attempt-1)) * float64(cfg.InitialBackoff))
	if cfg.MaxBackoff > 0 && (backoff > cfg.MaxBackoff || backoff < 0) {
		backoff = cfg.MaxBackoff
	}
	if cfg.Jitter > 0 {
		backoff += time.Duration(rand.Float64() * cfg.Jitter * float64(backoff))
	}
	return backoff
}
