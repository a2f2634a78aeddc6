package paymentproto

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid payment protocol configuration")

	// ErrMalformed is returned for messages that do not decode.
	ErrMalformed = errors.New("malformed payment protocol message")

	// ErrUnsupportedVersion is returned for payment details versions
	// other than 1.
	ErrUnsupportedVersion = errors.New("unsupported payment details " +
		"version")

	// ErrUnsupportedPKI is returned for unknown PKI types.
	ErrUnsupportedPKI = errors.New("unsupported pki type")

	// ErrNoCertificates is returned for an x509 request without
	// certificates.
	ErrNoCertificates = errors.New("no certificates in payment request")

	// ErrUntrustedChain is returned when the certificate chain does not
	// lead to a trusted root.
	ErrUntrustedChain = errors.New("certificate chain is not trusted")

	// ErrInvalidSignature is returned when the request signature does
	// not match the leaf certificate.
	ErrInvalidSignature = errors.New("invalid payment request signature")

	// ErrWrongNetwork is returned for requests of another network.
	ErrWrongNetwork = errors.New("payment request is for another network")

	// ErrExpired is returned for expired requests.
	ErrExpired = errors.New("payment request has expired")

	// ErrNoOutputs is returned for requests without outputs.
	ErrNoOutputs = errors.New("payment request has no outputs")
)

// VerificationError is returned when a payment request cannot be trusted.
type VerificationError struct {
	Err error
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	return "payment request verification failed: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *VerificationError) Unwrap() error {
	return e.Err
}
