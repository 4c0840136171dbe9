/*
errors.go - Centralized error types

PURPOSE:
  Only structurally invalid input is an error in this engine: a record with
  no user, no date, or a date that cannot be read. Over-limit usage, expired
  certificates and missing profile fields are findings, reported as flags on
  results, and never appear here.

ERROR CATEGORIES:
  1. Input errors - missing identity, unreadable dates/times
  2. Lookup errors - user or record not found in a store

USAGE:
  if errors.Is(err, generic.ErrMissingUserID) {
      // reject the document
  }
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingUserID is returned when a record has no user identifier.
	ErrMissingUserID = errors.New("missing user id")

	// ErrMissingDate is returned when a record has no date at all.
	ErrMissingDate = errors.New("missing date")

	// ErrInvalidDate is returned when a date value cannot be parsed.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidTime is returned when a time-of-day is not H:MM / HH:MM.
	ErrInvalidTime = errors.New("invalid time of day")

	// ErrNonPositiveDuration is returned when an end time is not after its
	// start time. Durations never wrap past midnight.
	ErrNonPositiveDuration = errors.New("end time is not after start time")

	// ErrInvalidPeriod is returned when a period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrRecordNotFound is returned when a referenced record doesn't exist.
	ErrRecordNotFound = errors.New("record not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidRecordError locates a rejected document inside a batch.
type InvalidRecordError struct {
	Index int
	Field string
	Err   error
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("record %d: field %s: %v", e.Index, e.Field, e.Err)
}

func (e *InvalidRecordError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingUserID) ||
		errors.Is(err, ErrMissingDate) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidTime) ||
		errors.Is(err, ErrNonPositiveDuration) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrRecordNotFound)
}
