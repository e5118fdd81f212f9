package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Retry controls Do. Zero fields take the defaults noted on each.
type Retry struct {
	// Attempts is the total number of tries, including the first. Default 3.
	Attempts int
	// Backoff is the first delay; it doubles per retry. Default 250ms.
	Backoff time.Duration
	// MaxBackoff caps the delay. Default 10s.
	MaxBackoff time.Duration
	// Retryable decides whether an error is worth another try. Default IsTransient.
	Retryable func(error) bool
	// Op names the operation in retry logs.
	Op string
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx is done.
func Do[T any](ctx context.Context, r Retry, fn func(context.Context) (T, error)) (T, error) {
	if r.Attempts <= 0 {
		r.Attempts = 3
	}
	if r.Backoff <= 0 {
		r.Backoff = 250 * time.Millisecond
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = 10 * time.Second
	}
	if r.Retryable == nil {
		r.Retryable = IsTransient
	}

	var zero T
	delay := r.Backoff
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= r.Attempts || ctx.Err() != nil || !r.Retryable(err) {
			return zero, err
		}

		zap.L().Warn("retrying operation",
			zap.String("operation", r.Op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		// +/-20% jitter
		wait := time.Duration(float64(delay) * (0.8 + 0.4*rand.Float64()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
		delay = min(delay*2, r.MaxBackoff)
	}
}

// TransientError marks an error as safe to retry, e.g. an HTTP 503.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"i/o timeout",
	"no such host",
	"server closed idle connection",
	"database is locked",
	"sqlite_busy",
}

// IsTransient reports whether err looks like a passing network or lock
// failure rather than a permanent one.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientMessages {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientStatus reports whether an HTTP status is worth retrying.
func IsTransientStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}
