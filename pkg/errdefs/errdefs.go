// Package errdefs defines the error kinds returned by the library.
//
// Every error produced by the store, the ingestion engine and the archive
// codec wraps exactly one of these sentinels, so callers branch with
// errors.Is rather than by inspecting messages.
package errdefs

import (
	"errors"
	"strings"
)

var (
	// ErrIOFailure is returned when a file could not be read, hashed or copied.
	ErrIOFailure = errors.New("io failure")

	// ErrIntegrityViolation is returned when a uniqueness or foreign-key
	// constraint would be broken.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrCapacityExceeded is returned when an image already carries the
	// maximum number of distinct active annotators.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrMalformedArchive is returned when an archive manifest is missing,
	// unparseable or references members that are not in the bundle.
	ErrMalformedArchive = errors.New("malformed archive")

	// ErrNotFound is returned when an image, tag or user does not exist.
	ErrNotFound = errors.New("not found")
)

// IsConstraintError reports whether err originates from a SQLite
// UNIQUE, FOREIGN KEY, NOT NULL or CHECK constraint.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "constraint failed") || strings.Contains(msg, "SQLITE_CONSTRAINT")
}

// Kind returns the sentinel wrapped by err, or nil for foreign errors.
func Kind(err error) error {
	for _, kind := range []error{ErrIOFailure, ErrIntegrityViolation, ErrCapacityExceeded, ErrMalformedArchive, ErrNotFound} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
