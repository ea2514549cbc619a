package scrape

import (
	"errors"
	"fmt"
)

// ErrSessionExpired signals that a protected page redirected to the login
// entry point mid-operation. The operation is retried once after re-auth.
var ErrSessionExpired = errors.New("session expired mid-operation")

// ErrTimeout signals a bounded wait (render settle or status poll) that
// elapsed without the expected condition.
var ErrTimeout = errors.New("timeout exceeded")

// ErrWriteAmbiguous signals that a conditional write could not reliably
// determine whether the target entry exists. The write fails closed.
var ErrWriteAmbiguous = errors.New("could not determine entry existence")

// ErrAccountNotFound signals that the named asset has no link on the
// accounts page.
var ErrAccountNotFound = errors.New("account not found on target site")

// LocatorError reports a configured locator that matched nothing, which
// usually means the target UI drifted. Not retried automatically; carries
// the operation and field names for diagnosis.
type LocatorError struct {
	Op    string
	Field string
}

func (e *LocatorError) Error() string {
	return fmt.Sprintf("locator not found: operation %s, field %s", e.Op, e.Field)
}
