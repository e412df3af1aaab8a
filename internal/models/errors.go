package models

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to the HTTP layer. Handlers map these to the
// status-code contract (expired session 410, invalid option 422).
var (
	ErrSessionExpired      = errors.New("quote session expired")
	ErrSessionNotFound     = errors.New("quote session not found")
	ErrInvalidOption       = errors.New("option not present in session")
	ErrSessionBooked       = errors.New("quote session already booked")
	ErrNoRateCard          = errors.New("no active rate card")
	ErrProviderTimeout     = errors.New("provider timed out")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrPersistenceConflict = errors.New("optimistic lock conflict")
)

// ValidationError is a bad-input error that maps to a local 4xx
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// BookingCompensatedError marks a booking that partially succeeded with the
// carrier and was compensated; it requires operator follow-up and is never
// silently swallowed.
type BookingCompensatedError struct {
	ShipmentID string
	AWB        string
	Cause      error
}

func (e *BookingCompensatedError) Error() string {
	return fmt.Sprintf("booking compensated (shipment %s, awb %q): %v", e.ShipmentID, e.AWB, e.Cause)
}

func (e *BookingCompensatedError) Unwrap() error { return e.Cause }
