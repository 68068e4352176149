package hilighting

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrDeviceNotFound reports that the platform has no connectable device
// for the requested address. It marks a permanent addressing problem,
// so the retry wrapper surfaces it immediately instead of backing off.
var ErrDeviceNotFound = errors.New("device not found")

// BusError is a failure reported by the host's bluetooth bus rather
// than the peripheral itself. It is always considered transient.
type BusError struct {
	Op  string
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bus error during %s: %v", e.Op, e.Err)
}

func (e *BusError) Cause() error { return e.Err }

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Cause() error  { return e.err }

// Transient marks err as a retryable transport failure. Transport
// adapters wrap connect and write failures with it so the command
// retry wrapper knows another attempt is worthwhile.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsNotFound reports whether err is, or was caused by, ErrDeviceNotFound.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrDeviceNotFound
}

type causer interface {
	Cause() error
}

// IsTransient reports whether err is a retryable transport failure
// anywhere in its cause chain.
func IsTransient(err error) bool {
	for err != nil {
		switch err.(type) {
		case *BusError, *transientError:
			return true
		}

		c, ok := err.(causer)
		if !ok {
			return false
		}
		err = c.Cause()
	}

	return false
}
