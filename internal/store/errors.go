// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"errors"
	"fmt"

	"github.com/ffutop/devicesync/internal/persistence"
)

var (
	// ErrValidation marks a request the caller got wrong (missing key).
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is a normal outcome: the queried key is absent.
	ErrNotFound = errors.New("not found")
	// ErrCorruptState means a persisted collection could not be decoded.
	ErrCorruptState = errors.New("corrupt persisted state")
	// ErrIO means the backing store could not be read or written.
	ErrIO = errors.New("storage i/o failure")
)

// ValidationError reports a missing or malformed required field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func missing(field string) error {
	return &ValidationError{Field: field}
}

// storageError tags err with the sentinel matching the load status.
type storageError struct {
	kind error
	err  error
}

func (e *storageError) Error() string { return e.err.Error() }

func (e *storageError) Unwrap() []error { return []error{e.kind, e.err} }

func ioError(err error) error {
	if err == nil {
		return nil
	}
	var se *storageError
	if errors.As(err, &se) || errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &storageError{kind: ErrIO, err: err}
}

// resultError converts a failed load into a typed error. It returns nil for
// StatusOK and StatusNotFound.
func resultError[T any](res persistence.Result[T]) error {
	switch res.Status {
	case persistence.StatusCorrupt:
		return &storageError{kind: ErrCorruptState, err: res.Err}
	case persistence.StatusIOFailure:
		return &storageError{kind: ErrIO, err: res.Err}
	default:
		return nil
	}
}
