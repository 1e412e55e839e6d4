package transport

import (
	"errors"
	"fmt"
)

// StatusError is an HTTP-equivalent failure. Every status of 400 or above,
// 429 included, is retryable; the transport does not special-case
// too-many-requests because the limiter already paces attempts.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("remote returned status %d", e.StatusCode)
}

// DispatchFailedError reports an operation whose retries are exhausted.
// The draft holding this failure moves to the failed state before the
// error surfaces; recovery is an explicit human re-approval, never an
// automatic retry.
type DispatchFailedError struct {
	Target   string
	Attempts int
	Last     error
}

func (e *DispatchFailedError) Error() string {
	return fmt.Sprintf("dispatch to %s failed after %d attempts: %v", e.Target, e.Attempts, e.Last)
}

func (e *DispatchFailedError) Unwrap() error { return e.Last }

// IsDispatchFailed reports whether err is (or wraps) a
// DispatchFailedError.
func IsDispatchFailed(err error) bool {
	var e *DispatchFailedError
	return errors.As(err, &e)
}
