package draft

import (
	"errors"
	"fmt"
)

// ValidationError reports caller input that violates a precondition:
// empty payload, oversized content, a past schedule time, missing
// rejection feedback. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// NotFoundError reports an unknown draft id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("draft %s not found", e.ID)
}

// InvalidTransitionError reports a lifecycle edge that does not exist from
// the current status. Callers must re-fetch the draft before retrying;
// losing a double-approve race surfaces as this error.
type InvalidTransitionError struct {
	ID     string
	From   Status
	Event  Event
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition: no %q edge from %q", e.Event, e.From)
	if e.ID != "" {
		msg = fmt.Sprintf("draft %s: %s", e.ID, msg)
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsInvalidTransition reports whether err is (or wraps) an
// InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}
