package tryon

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrTaskNotFound        = errors.New("task not found")
	ErrForbidden           = errors.New("task belongs to another user")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// QuotaExhaustedError is returned by Submit when the user has no remaining
// quota. No provider call was made.
type QuotaExhaustedError struct {
	Reason string
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("quota exhausted: %s", e.Reason)
}
