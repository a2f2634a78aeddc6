package hdwallet

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
)

// coinLocks keeps spent coins out of coin selection until the backend
// stops reporting them.
type coinLocks struct {
	clock clock.Clock
	locks map[wire.OutPoint]time.Time
	mu    sync.RWMutex
}

func newCoinLocks(clk clock.Clock) *coinLocks {
	return &coinLocks{
		clock: clk,
		locks: make(map[wire.OutPoint]time.Time),
	}
}

// lock locks a coin for the specified duration.
func (m *coinLocks) lock(outpoint wire.OutPoint, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if expiry, ok := m.locks[outpoint]; ok && now.Before(expiry) {
		return ErrUTXOLocked
	}

	m.locks[outpoint] = now.Add(duration)

	return nil
}

// unlock releases a coin.
func (m *coinLocks) unlock(outpoint wire.OutPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.locks[outpoint]; !ok {
		return ErrUTXONotLocked
	}

	delete(m.locks, outpoint)

	return nil
}

// isLocked checks if a coin is currently locked.
func (m *coinLocks) isLocked(outpoint wire.OutPoint) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	expiry, ok := m.locks[outpoint]

	return ok && m.clock.Now().Before(expiry)
}

// cleanupExpired removes expired locks.
func (m *coinLocks) cleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for outpoint, expiry := range m.locks {
		if !now.Before(expiry) {
			delete(m.locks, outpoint)
		}
	}
}
