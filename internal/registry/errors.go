package registry

import (
	"fmt"
	"time"
)

// NotFoundError reports an unknown structure name.
type NotFoundError struct {
	Structure string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("structure %q not found", e.Structure)
}

// AlreadyExistsError reports a define for a name that is taken.
type AlreadyExistsError struct {
	Structure string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("structure %q already exists", e.Structure)
}

// ConcurrencyError reports a timed-out wait on a structure's schema lock:
// another schema operation held it for longer than the configured timeout.
type ConcurrencyError struct {
	Structure string
	Timeout   time.Duration
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for schema lock on %q", e.Timeout, e.Structure)
}
