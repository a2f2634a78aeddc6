package mempool

import (
	"fmt"
	"strings"
)

// API response types for mempool.space REST API

// TransactionStatus represents the confirmation status of a transaction.
type TransactionStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

// UTXO is an unspent output as returned by the address endpoint.
type UTXO struct {
	TxID   string            `json:"txid"`
	Vout   uint32            `json:"vout"`
	Value  int64             `json:"value"`
	Status TransactionStatus `json:"status"`
}

// FeeEstimates represents fee estimates for different confirmation targets.
type FeeEstimates struct {
	FastestFee  int64 `json:"fastestFee"`  // Next block
	HalfHourFee int64 `json:"halfHourFee"` // ~3 blocks
	HourFee     int64 `json:"hourFee"`     // ~6 blocks
	EconomyFee  int64 `json:"economyFee"`  // ~12 blocks
	MinimumFee  int64 `json:"minimumFee"`  // Minimum relay fee
}

// APIError is a non-success answer of the API.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode,
		e.Body)
}

// doubleSpendReasons are the node reject messages meaning the inputs of a
// transaction are already spent by another one.
var doubleSpendReasons = []string{
	"txn-mempool-conflict",
	"bad-txns-inputs-missingorspent",
	"missing-inputs",
	"insufficient fee, rejecting replacement",
}

// alreadyKnownReasons are the reject messages meaning the node already has
// the transaction.
var alreadyKnownReasons = []string{
	"txn-already-in-mempool",
	"txn-already-known",
	"transaction already in block chain",
}

// IsDoubleSpend reports whether the node rejected a transaction because
// its inputs are spent elsewhere.
func (e *APIError) IsDoubleSpend() bool {
	return containsAny(e.Body, doubleSpendReasons)
}

// IsAlreadyKnown reports whether the node already has the transaction.
func (e *APIError) IsAlreadyKnown() bool {
	return containsAny(e.Body, alreadyKnownReasons)
}

func containsAny(s string, subs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}

	return false
}
