package mempool

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/sendcoins/wallet"
)

// confidenceBuffer is the number of updates a subscriber may lag behind.
const confidenceBuffer = 4

// confidenceTracker holds the confidence of a single transaction.
type confidenceTracker struct {
	current    wallet.Confidence
	subs       map[uint64]chan wallet.Confidence
	monitoring bool
}

// confidenceNotifier fans out confidence updates and polls for
// confirmations.
type confidenceNotifier struct {
	pollInterval time.Duration

	trackers map[chainhash.Hash]*confidenceTracker
	nextID   uint64
	mu       sync.Mutex

	quit chan struct{}
	wg   sync.WaitGroup
}

// newConfidenceNotifier creates a new confidence notifier.
func newConfidenceNotifier(pollInterval time.Duration) *confidenceNotifier {
	return &confidenceNotifier{
		pollInterval: pollInterval,
		trackers:     make(map[chainhash.Hash]*confidenceTracker),
		quit:         make(chan struct{}),
	}
}

// Stop stops every monitor and closes all subscriptions.
func (n *confidenceNotifier) Stop() {
	close(n.quit)
	n.wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, tracker := range n.trackers {
		for id, sub := range tracker.subs {
			close(sub)
			delete(tracker.subs, id)
		}
	}
}

func (n *confidenceNotifier) tracker(txid chainhash.Hash) *confidenceTracker {
	tracker, ok := n.trackers[txid]
	if !ok {
		tracker = &confidenceTracker{
			subs: make(map[uint64]chan wallet.Confidence),
		}
		n.trackers[txid] = tracker
	}

	return tracker
}

// subscribe registers for updates of a transaction. A known confidence is
// delivered right away.
func (n *confidenceNotifier) subscribe(
	txid chainhash.Hash) (<-chan wallet.Confidence, func()) {

	n.mu.Lock()
	defer n.mu.Unlock()

	tracker := n.tracker(txid)

	id := n.nextID
	n.nextID++

	sub := make(chan wallet.Confidence, confidenceBuffer)
	tracker.subs[id] = sub

	if tracker.current.Type != wallet.ConfidenceUnknown {
		sub <- tracker.current
	}

	return sub, func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		if _, ok := tracker.subs[id]; ok {
			close(sub)
			delete(tracker.subs, id)
		}
	}
}

// update records a new confidence and notifies all subscribers.
func (n *confidenceNotifier) update(txid chainhash.Hash,
	conf wallet.Confidence) {

	n.mu.Lock()
	defer n.mu.Unlock()

	tracker := n.tracker(txid)
	tracker.current = conf

	log.Debugf("Confidence of %v is now %v (peers=%d)", txid, conf.Type,
		conf.BroadcastPeers)

	for _, sub := range tracker.subs {
		select {
		case sub <- conf:
		default:
			// Drop the oldest update, the latest one wins.
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- conf:
			default:
			}
		}
	}
}

// current returns the last known confidence of a transaction.
func (n *confidenceNotifier) current(txid chainhash.Hash) wallet.Confidence {
	n.mu.Lock()
	defer n.mu.Unlock()

	if tracker, ok := n.trackers[txid]; ok {
		return tracker.current
	}

	return wallet.Confidence{}
}

// monitor polls client until the transaction confirms. Only one monitor
// runs per transaction.
func (n *confidenceNotifier) monitor(txid chainhash.Hash, client *Client) {
	n.mu.Lock()
	tracker := n.tracker(txid)
	if tracker.monitoring {
		n.mu.Unlock()
		return
	}
	tracker.monitoring = true
	n.mu.Unlock()

	n.wg.Add(1)
	go n.monitorConfirmation(txid, client)
}

// monitorConfirmation polls the status of a transaction until it confirms.
func (n *confidenceNotifier) monitorConfirmation(txid chainhash.Hash,
	client *Client) {

	defer n.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-n.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.quit:
			return

		case <-ticker.C:
			status, err := client.GetTransactionStatus(ctx, txid)
			if err != nil {
				// Not visible yet, keep polling.
				log.Tracef("Status of %v unavailable: %v", txid,
					err)
				continue
			}
			if !status.Confirmed {
				continue
			}

			conf := n.current(txid)
			conf.Type = wallet.ConfidenceBuilding
			conf.BlockHeight = int32(status.BlockHeight)
			n.update(txid, conf)

			return
		}
	}
}
