// Package retry provides the shared backoff policy for outbound calls.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1 // ensure fits in int64
	return int64(v % uint64(n))                //nolint:gosec // n>0, v%n < n, safe
}

// Policy describes a bounded exponential backoff with jitter.
// Retries are capped by MaxAttempts, never by a wall-clock ceiling.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the gateway's stock retry behavior.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the jittered sleep before retry attempt (0-based).
// The raw delay doubles per attempt and is clamped to MaxDelay; the
// jittered value is drawn from [raw/2, raw), so consecutive delays
// strictly increase until the clamp region and always stay below
// MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	raw := p.BaseDelay
	for i := 0; i < attempt; i++ {
		raw *= 2
		if raw >= p.MaxDelay {
			raw = p.MaxDelay
			break
		}
	}
	if raw > p.MaxDelay {
		raw = p.MaxDelay
	}
	half := raw / 2
	return half + time.Duration(cryptoInt64n(int64(half)))
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn up to p.MaxAttempts times, sleeping p.Delay(attempt)
// between attempts. It stops early if:
//   - fn returns nil (success)
//   - fn returns a *PermanentError (not retryable)
//   - ctx is cancelled
func Do(ctx context.Context, p Policy, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		// Don't sleep after the last attempt.
		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}

	return err
}
