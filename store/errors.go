package store

import (
	"errors"
	"fmt"
)

// Kind tells the caller whether a failed write is worth a reconnect.
type Kind int

const (
	// Transient failures (connection dropped, timeout) clear up after a reconnect.
	Transient Kind = iota
	// Permanent failures (schema mismatch, constraint violation) repeat for the same record.
	Permanent
)

func (k Kind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// UnavailableError reports that the store could not be opened.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store %s unavailable: %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// WriteError is a failed write. Nothing of the record was committed.
type WriteError struct {
	Kind Kind
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write (%s): %v", e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a *WriteError worth a reconnect.
func IsTransient(err error) bool {
	var we *WriteError
	return errors.As(err, &we) && we.Kind == Transient
}

// IsPermanent reports whether err is a *WriteError that will not go away.
func IsPermanent(err error) bool {
	var we *WriteError
	return errors.As(err, &we) && we.Kind == Permanent
}
