package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no object is stored at the key.
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that escape the backend namespace.
var ErrInvalidKey = errors.New("invalid key")

// transientError marks an error as retryable (network, timeout, throttling).
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return fmt.Sprintf("transient storage error: %v", e.err)
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was classified as retryable. Not-found and
// permission errors are never transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
