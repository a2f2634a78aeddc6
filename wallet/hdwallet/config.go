package hdwallet

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/lightninglabs/sendcoins/chain/mempool"
	"github.com/lightninglabs/sendcoins/keyring"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultWorkFactor is the scrypt N new keystores are encrypted with.
	DefaultWorkFactor = 1 << 15

	// DefaultLockDuration is how long spent coins stay locked while the
	// backend catches up with the spending transaction.
	DefaultLockDuration = 10 * time.Minute
)

// UTXOSource is the chain backend coins are synced from. It is implemented
// by *mempool.Client.
type UTXOSource interface {
	// GetCurrentHeight returns the height of the best block.
	GetCurrentHeight(ctx context.Context) (uint32, error)

	// GetAddressUTXOs returns the unspent outputs paying to addr,
	// including unconfirmed ones.
	GetAddressUTXOs(ctx context.Context,
		addr btcutil.Address) ([]mempool.UTXO, error)
}

// Config holds the configuration for the Wallet.
type Config struct {
	// NetParams is the network parameters (mainnet, testnet, etc.)
	NetParams *chaincfg.Params

	// Seed is the wallet seed of an unencrypted wallet.
	Seed []byte

	// Keystore holds the encrypted seed of an encrypted wallet.
	Keystore *Keystore

	// KeystorePath is where an upgraded keystore is written. If empty,
	// upgrades are kept in memory only.
	KeystorePath string

	// Source is the chain backend for coin sync.
	Source UTXOSource

	// KeyStateStore persists key indexes. If nil, indexes are kept in
	// memory only.
	KeyStateStore keyring.KeyStateStore

	// MinConfs is the minimum confirmations for coin selection.
	// Default: 1
	MinConfs int32

	// GapLimit is the number of unused addresses scanned on each branch.
	// Default: 20
	GapLimit uint32

	// RelayFeePerKb is the relay fee the dust limit derives from.
	RelayFeePerKb btcutil.Amount

	// LockDuration is how long spent coins stay locked.
	// Default: 10 minutes
	LockDuration time.Duration

	// Clock is used for lock expiry.
	Clock clock.Clock
}

// DefaultConfig returns a default configuration.
func DefaultConfig(source UTXOSource) *Config {
	return &Config{
		NetParams:     &chaincfg.TestNet3Params,
		Source:        source,
		MinConfs:      1,
		GapLimit:      keyring.DefaultGapLimit,
		RelayFeePerKb: txrules.DefaultRelayFeePerKb,
		LockDuration:  DefaultLockDuration,
		Clock:         clock.NewDefaultClock(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.NetParams == nil {
		return ErrInvalidNetParams
	}

	if c.Source == nil {
		return ErrSourceRequired
	}

	switch {
	case c.Seed == nil && c.Keystore == nil:
		return ErrSeedRequired

	case c.Seed != nil && c.Keystore != nil:
		return ErrAmbiguousSeed
	}

	return nil
}
