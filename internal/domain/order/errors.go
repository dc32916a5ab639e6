package order

import (
	"fmt"
)

// CreationError is returned when the backend did not create an order. No
// order exists afterwards, so the attempt is safe to retry from scratch.
type CreationError struct {
	// Rejected is true when the backend refused the payload (4xx) as opposed
	// to being unreachable or failing (network, 5xx).
	Rejected   bool
	StatusCode int
	Err        error
}

func (e *CreationError) Error() string {
	if e.Rejected {
		return fmt.Sprintf("order rejected by backend (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("order not created: %v", e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// UpdateError is returned when a status transition could not be confirmed.
// The order exists; the transition is retryable because it is idempotent.
type UpdateError struct {
	OrderID    string
	Status     Status
	StatusCode int
	Err        error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("set order %s status %s: %v", e.OrderID, e.Status, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Permanent reports whether retrying cannot help (the backend rejected the
// request as invalid or unknown).
func (e *UpdateError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 408 && e.StatusCode != 429
}
