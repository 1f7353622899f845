// Package retry classifies failed authority calls and retries the transient
// ones with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rezonia/einvoice-gateway/internal/authority"
	"github.com/rezonia/einvoice-gateway/internal/model"
)

// Class is the retryability verdict for a failed operation.
type Class int

const (
	// ClassTransient failures (timeouts, 5xx, connection resets) are safe to
	// retry with backoff.
	ClassTransient Class = iota
	// ClassTerminal failures (4xx validation, bad credential, integrity
	// mismatch) never succeed on retry with identical inputs.
	ClassTerminal
	// ClassSessionExpired failures are handled by reopening the session once
	// and re-attempting the triggering operation exactly once.
	ClassSessionExpired
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassTerminal:
		return "terminal"
	case ClassSessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

// Classify maps a failed operation outcome to a retry class.
func Classify(err error) Class {
	if err == nil {
		return ClassTerminal
	}

	var apiErr *authority.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized &&
			(apiErr.Code == authority.CodeSessionExpired || apiErr.Code == authority.CodeTokenExpired):
			return ClassSessionExpired
		case apiErr.StatusCode == http.StatusNotImplemented:
			// The authority does not support the operation at all; retrying
			// cannot change that.
			return ClassTerminal
		case apiErr.StatusCode >= 500:
			return ClassTransient
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return ClassTransient
		default:
			return ClassTerminal
		}
	}

	var gwErr *model.Error
	if errors.As(err, &gwErr) {
		switch gwErr.Kind {
		case model.KindSessionExpired:
			return ClassSessionExpired
		case model.KindCursorInvalidated:
			// Only restarting the listing from scratch can help.
			return ClassTerminal
		default:
			if gwErr.Kind.Terminal() {
				return ClassTerminal
			}
			return ClassTransient
		}
	}

	// Caller cancellation is not worth retrying.
	if errors.Is(err, context.Canceled) {
		return ClassTerminal
	}

	// Everything else from http.Client.Do is transport-level: DNS failures,
	// connection refused/reset, TLS handshake, timeouts.
	return ClassTransient
}

// Policy retries transient failures a bounded number of times with
// exponential backoff and jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int)
}

// DefaultPolicy matches the gateway defaults: 3 attempts, 500ms base, 10s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Backoff returns the delay before the given retry attempt (1-based), with
// full jitter applied.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d))) + d/2
}

// Do runs op, retrying while the failure classifies as transient. Terminal
// and session-expired failures are returned immediately; exhausted retries
// surface as ErrUnavailable wrapping the last failure.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if Classify(lastErr) != ClassTransient {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}
	return model.NewError(model.KindUnavailable, "retries exhausted", lastErr)
}
