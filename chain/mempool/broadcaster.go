package mempool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/sendcoins/wallet"
)

var (
	// ErrNoClients is returned when a broadcaster has no endpoints.
	ErrNoClients = errors.New("no broadcast endpoints configured")

	// ErrBroadcastRejected is returned when no endpoint accepted a
	// transaction.
	ErrBroadcastRejected = errors.New("transaction rejected by all " +
		"endpoints")
)

// BroadcasterConfig holds configuration for the Broadcaster.
type BroadcasterConfig struct {
	// Clients are the endpoints transactions are published to. Every
	// endpoint counts as one broadcast peer.
	Clients []*Client

	// PollInterval is how often to poll for confirmations.
	// Default: 30 seconds
	PollInterval time.Duration
}

// DefaultBroadcasterConfig returns default configuration.
func DefaultBroadcasterConfig(clients ...*Client) *BroadcasterConfig {
	return &BroadcasterConfig{
		Clients:      clients,
		PollInterval: 30 * time.Second,
	}
}

// Broadcaster publishes transactions to a set of mempool.space compatible
// endpoints and tracks their confidence.
type Broadcaster struct {
	cfg *BroadcasterConfig

	notifier *confidenceNotifier

	stopOnce sync.Once
}

// A compile-time assertion that Broadcaster satisfies wallet.Broadcaster.
var _ wallet.Broadcaster = (*Broadcaster)(nil)

// NewBroadcaster creates a new Broadcaster.
func NewBroadcaster(cfg *BroadcasterConfig) (*Broadcaster, error) {
	if cfg == nil || len(cfg.Clients) == 0 {
		return nil, ErrNoClients
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}

	return &Broadcaster{
		cfg:      cfg,
		notifier: newConfidenceNotifier(cfg.PollInterval),
	}, nil
}

// Stop stops all confirmation monitors and closes all subscriptions.
func (b *Broadcaster) Stop() error {
	b.stopOnce.Do(b.notifier.Stop)

	return nil
}

// PublishTransaction submits tx to every endpoint. It succeeds if at least
// one endpoint accepted the transaction. If every endpoint rejected it as a
// double spend, the transaction is reported dead.
func (b *Broadcaster) PublishTransaction(ctx context.Context,
	tx *wire.MsgTx) error {

	txid := tx.TxHash()

	var (
		accepted     int
		doubleSpends int
		lastErr      error
		monitorWith  *Client
	)
	for _, client := range b.cfg.Clients {
		err := client.BroadcastTransaction(ctx, tx)

		var apiErr *APIError
		switch {
		case err == nil:
			accepted++

		case errors.As(err, &apiErr) && apiErr.IsAlreadyKnown():
			accepted++

		case errors.As(err, &apiErr) && apiErr.IsDoubleSpend():
			doubleSpends++
			lastErr = err
			log.Warnf("Endpoint %s reports %v as double spend",
				client.BaseURL(), txid)
			continue

		default:
			lastErr = err
			log.Warnf("Unable to publish %v to %s: %v", txid,
				client.BaseURL(), err)
			continue
		}

		if monitorWith == nil {
			monitorWith = client
		}
	}

	switch {
	case accepted > 0:
		log.Infof("Published %v to %d of %d endpoints", txid, accepted,
			len(b.cfg.Clients))

		b.notifier.update(txid, wallet.Confidence{
			Type:           wallet.ConfidencePending,
			BroadcastPeers: accepted,
		})
		b.notifier.monitor(txid, monitorWith)

		return nil

	case doubleSpends == len(b.cfg.Clients):
		b.notifier.update(txid, wallet.Confidence{
			Type: wallet.ConfidenceDead,
		})
	}

	return fmt.Errorf("%w: %v", ErrBroadcastRejected, lastErr)
}

// SubscribeConfidence returns confidence updates for txid.
func (b *Broadcaster) SubscribeConfidence(
	txid chainhash.Hash) (<-chan wallet.Confidence, func()) {

	return b.notifier.subscribe(txid)
}
