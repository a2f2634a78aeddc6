package dryrun

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

var (
	// ErrNoOutputs is returned for a request without outputs.
	ErrNoOutputs = errors.New("no outputs requested")

	// ErrDustyOutput is returned when an output is too small to relay.
	ErrDustyOutput = errors.New("output value is below the dust threshold")

	// ErrCouldNotAdjustDownward is returned when emptying the wallet
	// leaves too little to pay the fee and a relayable output.
	ErrCouldNotAdjustDownward = errors.New("could not adjust output " +
		"downward to pay the fee")

	// ErrEmptyWalletOutputs is returned when emptying the wallet into
	// more than one output.
	ErrEmptyWalletOutputs = errors.New("emptying the wallet needs " +
		"exactly one output")
)

// InsufficientFundsError is returned when the spendable coins do not cover
// the outputs and the fee.
type InsufficientFundsError struct {
	// Missing is how much more would be needed.
	Missing btcutil.Amount

	// Pending is the value of coins that are not spendable yet.
	Pending btcutil.Amount
}

// Error implements the error interface. The pending amount is only
// mentioned when there is one.
func (e *InsufficientFundsError) Error() string {
	if e.Pending > 0 {
		return fmt.Sprintf("insufficient funds: missing %v, %v pending",
			e.Missing, e.Pending)
	}

	return fmt.Sprintf("insufficient funds: missing %v", e.Missing)
}
