package sending

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	goerrors "github.com/go-errors/errors"
	"github.com/lightninglabs/sendcoins/directpay"
	"github.com/lightninglabs/sendcoins/dryrun"
	"github.com/lightninglabs/sendcoins/paymentproto"
	"github.com/lightninglabs/sendcoins/payreq"
	"github.com/lightninglabs/sendcoins/wallet"
)

var (
	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid sending configuration")

	// ErrStopped is returned when the controller is not running.
	ErrStopped = errors.New("controller stopped")

	// ErrAlreadyStarted is returned when a workflow is begun twice.
	ErrAlreadyStarted = errors.New("workflow already started")

	// ErrWrongState is returned for actions the current state does not
	// allow.
	ErrWrongState = errors.New("action not allowed in current state")

	// ErrConfirmRejected is returned when confirm is called while the
	// payment is not plausible yet.
	ErrConfirmRejected = errors.New("payment not ready to confirm")

	// ErrNotEditable is returned when a field the intent fixed is edited.
	ErrNotEditable = errors.New("field is fixed by the payment intent")

	// ErrNoPrompt is returned when answering while no prompt is shown, or
	// with an answer the prompt does not offer.
	ErrNoPrompt = errors.New("no matching prompt")

	// ErrBusy is returned when cancelling while irrevocable work is in
	// flight.
	ErrBusy = errors.New("signing in progress")
)

// ErrorKind classifies every failure the workflow can report.
type ErrorKind uint8

const (
	// ErrorNone means no failure.
	ErrorNone ErrorKind = iota

	// ErrorAddressFormatInvalid is an address that does not parse. It
	// only produces a hint.
	ErrorAddressFormatInvalid

	// ErrorInsufficientFunds means the wallet cannot cover the payment.
	ErrorInsufficientFunds

	// ErrorDustyOutput means an output is too small to relay.
	ErrorDustyOutput

	// ErrorCouldNotAdjustDownward means emptying the wallet leaves
	// nothing to pay after the fee.
	ErrorCouldNotAdjustDownward

	// ErrorInvalidEncryptionKey means the passphrase is wrong.
	ErrorInvalidEncryptionKey

	// ErrorTrustVerificationFailure means a payment request could not be
	// trusted.
	ErrorTrustVerificationFailure

	// ErrorTransportFailure means the payee could not be reached.
	ErrorTransportFailure

	// ErrorUnclassifiedBuildFailure is any other failure. It is fatal.
	ErrorUnclassifiedBuildFailure
)

// String returns the name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorAddressFormatInvalid:
		return "address_format_invalid"
	case ErrorInsufficientFunds:
		return "insufficient_funds"
	case ErrorDustyOutput:
		return "dusty_output"
	case ErrorCouldNotAdjustDownward:
		return "could_not_adjust_downward"
	case ErrorInvalidEncryptionKey:
		return "invalid_encryption_key"
	case ErrorTrustVerificationFailure:
		return "trust_verification_failure"
	case ErrorTransportFailure:
		return "transport_failure"
	default:
		return "unclassified_build_failure"
	}
}

// Failure is a classified failure. No other error type reaches workflow
// state.
type Failure struct {
	// Kind is the class of the failure.
	Kind ErrorKind

	// Missing is how much more is needed, for insufficient funds.
	Missing btcutil.Amount

	// Pending is the value still unconfirmed, for insufficient funds.
	Pending btcutil.Amount

	// Err is the underlying error.
	Err error
}

// Error implements the error interface with a message suitable for
// display.
func (f *Failure) clone() *Failure {
	if f == nil {
		return nil
	}

	c := *f
	return &c
}

func (f *Failure) Error() string {
	switch f.Kind {
	case ErrorInsufficientFunds:
		if f.Pending > 0 {
			return fmt.Sprintf("Insufficient funds: %v missing, %v "+
				"pending", f.Missing, f.Pending)
		}
		return fmt.Sprintf("Insufficient funds: %v missing", f.Missing)

	case ErrorDustyOutput:
		return "The amount is too small to send"

	case ErrorCouldNotAdjustDownward:
		return "Emptying the wallet leaves nothing after the fee"

	case ErrorInvalidEncryptionKey:
		return "Bad spending password"

	case ErrorAddressFormatInvalid:
		return "Invalid address"
	}

	if f.Err == nil {
		return f.Kind.String()
	}

	return fmt.Sprintf("%v: %v", f.Kind, f.Err)
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// classify translates an error returned by a collaborator into a Failure.
func classify(err error) *Failure {
	var (
		insufficient *dryrun.InsufficientFundsError
		verification *paymentproto.VerificationError
	)
	switch {
	case errors.As(err, &insufficient):
		return &Failure{
			Kind:    ErrorInsufficientFunds,
			Missing: insufficient.Missing,
			Pending: insufficient.Pending,
			Err:     err,
		}

	case errors.Is(err, dryrun.ErrDustyOutput):
		return &Failure{Kind: ErrorDustyOutput, Err: err}

	case errors.Is(err, dryrun.ErrCouldNotAdjustDownward),
		errors.Is(err, dryrun.ErrEmptyWalletOutputs):

		return &Failure{Kind: ErrorCouldNotAdjustDownward, Err: err}

	case errors.Is(err, wallet.ErrInvalidEncryptionKey):
		return &Failure{Kind: ErrorInvalidEncryptionKey, Err: err}

	case errors.As(err, &verification),
		errors.Is(err, payreq.ErrHashMismatch):

		return &Failure{Kind: ErrorTrustVerificationFailure, Err: err}

	case errors.Is(err, payreq.ErrFetchFailed),
		errors.Is(err, directpay.ErrDeliveryFailed):

		return &Failure{Kind: ErrorTransportFailure, Err: err}

	default:
		log.Errorf("Unclassified failure: %v",
			goerrors.Wrap(err, 1).ErrorStack())

		return &Failure{Kind: ErrorUnclassifiedBuildFailure, Err: err}
	}
}
