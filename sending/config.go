package sending

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/sendcoins/dryrun"
	"github.com/lightninglabs/sendcoins/feetable"
	"github.com/lightninglabs/sendcoins/payintent"
	"github.com/lightninglabs/sendcoins/paymentproto"
	"github.com/lightninglabs/sendcoins/wallet"
	"github.com/lightninglabs/sendcoins/worker"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultWorkFactor is the scrypt cost passphrases are derived with.
	DefaultWorkFactor = 1 << 15

	// DefaultAutoDismissDelay is how long a broadcast payment stays on
	// screen.
	DefaultAutoDismissDelay = 5 * time.Second
)

// Estimator previews transactions.
type Estimator interface {
	Estimate(ctx context.Context, req *dryrun.Request) (*dryrun.Result,
		error)
}

// Negotiator fetches payment requests.
type Negotiator interface {
	Fetch(ctx context.Context, orig payintent.Intent) (payintent.Intent,
		error)
}

// Deliverer delivers payments to the payee.
type Deliverer interface {
	Deliver(ctx context.Context, endpoint string,
		payment *paymentproto.Payment) (bool, error)

	DefaultEnabled(endpoint string) bool
}

// AddressBook resolves address labels. An unknown address has an empty
// label.
type AddressBook interface {
	Label(ctx context.Context, address string) (string, error)
}

// Queue runs background work in order.
type Queue interface {
	Submit(task worker.Task) error
}

// Config holds configuration for the Controller.
type Config struct {
	// NetParams is the network addresses are parsed for.
	NetParams *chaincfg.Params

	// Wallet is the wallet the payment is made from.
	Wallet wallet.Wallet

	// Broadcaster publishes the signed transaction.
	Broadcaster wallet.Broadcaster

	// Estimator runs dry runs.
	Estimator Estimator

	// FeeTable supplies the fee rates.
	FeeTable feetable.Table

	// Negotiator fetches payment requests. Intents naming a payment
	// request are refused without one.
	Negotiator Negotiator

	// Deliverer delivers payments directly. Direct payment is off
	// without one.
	Deliverer Deliverer

	// AddressBook labels entered addresses. Optional.
	AddressBook AddressBook

	// Queue runs key derivation, signing and network calls. If nil, the
	// controller runs its own.
	Queue Queue

	// Clock schedules the auto dismiss.
	Clock clock.Clock

	// WorkFactor is the scrypt cost passphrases are derived with.
	WorkFactor uint64

	// AutoDismissDelay is how long after broadcast the workflow closes
	// itself. Zero disables it.
	AutoDismissDelay time.Duration

	// OnKeyUpgraded is called after the wallet encryption was upgraded,
	// for example to trigger a backup. Optional.
	OnKeyUpgraded func()
}

// DefaultConfig returns a configuration with default tunables. The
// collaborators still need to be filled in.
func DefaultConfig() *Config {
	return &Config{
		NetParams:        &chaincfg.MainNetParams,
		Estimator:        dryrun.NewEstimator(nil),
		Clock:            clock.NewDefaultClock(),
		WorkFactor:       DefaultWorkFactor,
		AutoDismissDelay: DefaultAutoDismissDelay,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch {
	case c.NetParams == nil:
		return ErrInvalidConfig
	case c.Wallet == nil:
		return ErrInvalidConfig
	case c.Broadcaster == nil:
		return ErrInvalidConfig
	case c.Estimator == nil:
		return ErrInvalidConfig
	case c.FeeTable == nil:
		return ErrInvalidConfig
	case c.Clock == nil:
		return ErrInvalidConfig
	}

	return nil
}
