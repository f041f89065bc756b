package inventory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that inventory has no such product.
	ErrNotFound = errors.New("inventory: product not found")
	// ErrUnavailable reports that inventory could not be reached in time.
	ErrUnavailable = errors.New("inventory: service unavailable")
	// ErrMalformed reports an answer that does not carry a usable product.
	ErrMalformed = errors.New("inventory: malformed product payload")
)

// UnavailableError carries the transport failure and the collaborator port.
type UnavailableError struct {
	Port string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("inventory: service on port %s unavailable: %v", e.Port, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUnavailable) match.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }
