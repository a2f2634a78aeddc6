package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedEndpoint is returned for endpoints no transport can
	// reach.
	ErrUnsupportedEndpoint = errors.New("unsupported endpoint")

	// ErrRadioUnavailable is returned when a wireless endpoint is used
	// but no radio is configured.
	ErrRadioUnavailable = errors.New("no radio available")

	// ErrRadioDisabled is returned when the radio is switched off.
	ErrRadioDisabled = errors.New("radio disabled")

	// ErrRadioNotPermitted is returned when the radio may not be used.
	ErrRadioNotPermitted = errors.New("radio use not permitted")

	// ErrFrameTooLarge is returned when a wireless frame exceeds the
	// maximum size.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrUnexpectedMessage is returned when a peer answers with a
	// message of the wrong type.
	ErrUnexpectedMessage = errors.New("unexpected message type")
)

// StatusError is returned when an HTTP endpoint answers with a non-success
// status code.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code %d", e.Code)
	}

	return fmt.Sprintf("unexpected status code %d: %s", e.Code, e.Body)
}
