package engine

import (
	"context"
	"errors"
	"net/textproto"
	"time"
)

// RetryPolicy bounds delivery attempts. Backoff is a fixed delay between
// attempts; delivery volume is low enough that exponential growth buys
// nothing.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy retries twice after the initial attempt, a minute
// apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     60 * time.Second,
	}
}

// statusCoder is implemented by errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// IsPermanent reports whether a delivery error cannot succeed on retry.
// HTTP 4xx responses are rejections of the request itself, except 408
// and 429 which signal server-side pressure. SMTP 5xx replies are
// permanent refusals. Context cancellation is permanent for the current
// attempt cycle since the engine is shutting down.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		if code == 408 || code == 429 {
			return false
		}
		return code >= 400 && code < 500
	}

	var smtpErr *textproto.Error
	if errors.As(err, &smtpErr) {
		return smtpErr.Code >= 500 && smtpErr.Code < 600
	}

	return false
}
