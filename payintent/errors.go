package payintent

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAmount is returned when a merged intent has no amount.
	ErrMissingAmount = errors.New("payment has no amount")

	// ErrMissingAddress is returned when a merged intent has no address.
	ErrMissingAddress = errors.New("payment has no address")

	// ErrNoAddress is returned when an address is requested from an
	// intent that does not pay exactly one standard address.
	ErrNoAddress = errors.New("intent does not pay a single address")

	errNegativeAmount    = errors.New("negative amount")
	errFractionalSatoshi = errors.New("amount has fractional satoshis")
	errAmountTooLarge    = errors.New("amount exceeds total supply")
)

// URIError describes why a payment URI could not be parsed. Reason is
// suitable for display.
type URIError struct {
	URI    string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *URIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid payment URI: %s: %v", e.Reason,
			e.Err)
	}

	return fmt.Sprintf("invalid payment URI: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *URIError) Unwrap() error {
	return e.Err
}
