package wallet

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/sendcoins/dryrun"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

var (
	// ErrInvalidEncryptionKey is returned when a passphrase does not
	// unlock the wallet.
	ErrInvalidEncryptionKey = errors.New("invalid encryption key")

	// ErrNotEncrypted is returned when a key is derived for a wallet
	// without encryption.
	ErrNotEncrypted = errors.New("wallet is not encrypted")
)

// BalanceType selects which coins count towards a balance.
type BalanceType uint8

const (
	// BalanceEstimated counts every coin, including unconfirmed ones.
	BalanceEstimated BalanceType = iota

	// BalanceAvailable counts only coins that can be spent right now.
	BalanceAvailable
)

// EncryptionKey unlocks the private keys of an encrypted wallet.
type EncryptionKey []byte

// SendRequest describes a transaction to build, sign and commit.
type SendRequest struct {
	// Outputs are the outputs to pay.
	Outputs []*wire.TxOut

	// EmptyWallet spends every available coin to the single output,
	// minus the fee.
	EmptyWallet bool

	// FeeRate is the fee rate to pay.
	FeeRate chainfee.SatPerKVByte

	// Key unlocks an encrypted wallet. It is nil for wallets without
	// encryption.
	Key EncryptionKey

	// Memo is stored alongside the transaction.
	Memo string
}

// SendResult is a signed transaction committed to the wallet.
type SendResult struct {
	// Tx is the signed transaction.
	Tx *wire.MsgTx

	// Fee is the absolute fee paid.
	Fee btcutil.Amount

	// Amount is the value sent to the payment outputs.
	Amount btcutil.Amount
}

// Wallet is the wallet service a payment is made from.
type Wallet interface {
	// Balance returns the balance of the given type.
	Balance(ctx context.Context, typ BalanceType) (btcutil.Amount, error)

	// Coins returns a snapshot of the coins a dry run may select from.
	Coins(ctx context.Context) ([]dryrun.Coin, error)

	// CurrentReceiveAddress returns the current receive address without
	// advancing it.
	CurrentReceiveAddress() (btcutil.Address, error)

	// CurrentChangeScript returns the current change script without
	// advancing it.
	CurrentChangeScript() ([]byte, error)

	// IsAddressMine reports whether the address belongs to the wallet.
	IsAddressMine(addr btcutil.Address) bool

	// IsEncrypted reports whether signing needs an encryption key.
	IsEncrypted() bool

	// DeriveKey derives the encryption key from a passphrase. If the
	// stored key derivation is weaker than workFactor, the wallet is
	// re-encrypted and upgraded is true.
	DeriveKey(ctx context.Context, passphrase string,
		workFactor uint64) (key EncryptionKey, upgraded bool, err error)

	// SignAndCommit builds, signs and commits a transaction.
	SignAndCommit(ctx context.Context, req *SendRequest) (*SendResult,
		error)

	// FreshRefundAddress derives a new address to receive refunds on.
	FreshRefundAddress(ctx context.Context) (btcutil.Address, error)
}

// ConfidenceType is the broadcast state of a transaction.
type ConfidenceType uint8

const (
	// ConfidenceUnknown means nothing is known about the transaction.
	ConfidenceUnknown ConfidenceType = iota

	// ConfidencePending means the transaction was accepted for relay.
	ConfidencePending

	// ConfidenceBuilding means the transaction is in the best chain.
	ConfidenceBuilding

	// ConfidenceDead means the transaction can never confirm.
	ConfidenceDead
)

// String returns the name of the confidence type.
func (c ConfidenceType) String() string {
	switch c {
	case ConfidencePending:
		return "pending"
	case ConfidenceBuilding:
		return "building"
	case ConfidenceDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Confidence describes how likely a transaction is to confirm.
type Confidence struct {
	// Type is the broadcast state.
	Type ConfidenceType

	// BroadcastPeers is the number of peers that accepted the
	// transaction.
	BroadcastPeers int

	// BlockHeight is the height the transaction confirmed at, if
	// building.
	BlockHeight int32
}

// Broadcaster publishes transactions and reports their confidence.
type Broadcaster interface {
	// PublishTransaction submits a transaction to the network. It
	// returns once every peer answered.
	PublishTransaction(ctx context.Context, tx *wire.MsgTx) error

	// SubscribeConfidence returns a channel of confidence updates for
	// a transaction and a function releasing the subscription.
	SubscribeConfidence(txid chainhash.Hash) (<-chan Confidence, func())
}
