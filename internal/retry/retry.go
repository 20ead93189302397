// Package retry runs a remote call with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy bounds how often and how quickly a call is retried.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Retryable decides whether err is worth another attempt. Nil retries
	// every error that is not wrapped with Permanent.
	Retryable func(error) bool
}

// Default is three attempts starting at 500ms and doubling.
var Default = Policy{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	Multiplier:     2,
}

// None runs the call exactly once.
var None = Policy{MaxAttempts: 1}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not retryable.
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

// Backoff returns the wait before the attempt following attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := time.Duration(float64(p.InitialBackoff) * math.Pow(mult, float64(attempt)))
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := range attempts {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}
	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}
