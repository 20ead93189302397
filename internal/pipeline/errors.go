package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a publishing failure.
type ErrorKind string

const (
	// Transport covers network failures and timeouts; retried next trigger.
	Transport ErrorKind = "transport"
	// Auth means the publishing credentials are invalid or expired.
	Auth ErrorKind = "auth"
	// RateLimit is a transport failure that also imposes a backoff.
	RateLimit ErrorKind = "rate_limit"
	// Rejected means the endpoint refused the content itself.
	Rejected ErrorKind = "rejected"
)

// PublishError is the typed failure returned by a Publisher.
type PublishError struct {
	Kind       ErrorKind
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *PublishError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("publish %s error (HTTP %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("publish %s error: %v", e.Kind, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ClassifyPublishError converts any publishing error into a *PublishError.
// Errors that carry no classification, including timeouts, are Transport.
func ClassifyPublishError(err error) *PublishError {
	if err == nil {
		return nil
	}
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &PublishError{Kind: Transport, Err: fmt.Errorf("timed out: %w", err)}
	}
	return &PublishError{Kind: Transport, Err: err}
}
