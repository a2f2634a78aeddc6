package dryrun

import (
	"bytes"
	"context"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// Coin is a wallet output a transaction may spend. All coins are P2WPKH.
type Coin struct {
	// OutPoint is the location of the output.
	OutPoint wire.OutPoint

	// Amount is the value of the output.
	Amount btcutil.Amount

	// PkScript is the locking script of the output.
	PkScript []byte

	// Confirmations is the depth of the output in the chain.
	Confirmations int32

	// Trusted marks unconfirmed outputs of our own transactions, which
	// are spendable right away.
	Trusted bool
}

// Request describes a transaction to estimate.
type Request struct {
	// Outputs are the payment outputs.
	Outputs []*wire.TxOut

	// EmptyWallet spends every spendable coin to the single output.
	EmptyWallet bool

	// FeeRate is the fee rate to pay.
	FeeRate chainfee.SatPerKVByte

	// Coins is a snapshot of the wallet coins.
	Coins []Coin

	// ChangeScript receives the change.
	ChangeScript []byte
}

// Result is a candidate transaction.
type Result struct {
	// Tx is the unsigned transaction.
	Tx *wire.MsgTx

	// Inputs are the selected coins, in input order.
	Inputs []Coin

	// Fee is the absolute fee.
	Fee btcutil.Amount

	// Amount is the value paid to the payment outputs.
	Amount btcutil.Amount

	// ChangeIndex is the index of the change output, or -1.
	ChangeIndex int
}

// Config holds the configuration of the Estimator.
type Config struct {
	// MinConfs is the depth a coin needs to be spendable, unless it is
	// trusted.
	MinConfs int32

	// RelayFeePerKb is the relay fee the dust limit derives from.
	RelayFeePerKb btcutil.Amount
}

// DefaultConfig returns the default estimator configuration.
func DefaultConfig() *Config {
	return &Config{
		MinConfs:      1,
		RelayFeePerKb: txrules.DefaultRelayFeePerKb,
	}
}

// Estimator builds unsigned candidate transactions. It has no side effects,
// so the same request always yields the same result.
type Estimator struct {
	cfg *Config
}

// NewEstimator creates a new Estimator.
func NewEstimator(cfg *Config) *Estimator {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &Estimator{cfg: cfg}
}

// Estimate selects coins for req and returns the resulting transaction and
// fee. Insufficient funds, dusty outputs and a failed downward adjustment
// are reported as distinct errors.
func (e *Estimator) Estimate(ctx context.Context, req *Request) (*Result,
	error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Outputs) == 0 {
		return nil, ErrNoOutputs
	}

	spendable, pending := e.partition(req.Coins)

	var (
		res *Result
		err error
	)
	if req.EmptyWallet {
		res, err = e.emptyWallet(req, spendable)
	} else {
		res, err = e.selectCoins(req, spendable, pending)
	}
	if err != nil {
		log.Debugf("Dry run failed: %v", err)
		return nil, err
	}

	log.Tracef("Dry run result: %v", newLogClosure(func() string {
		return spew.Sdump(res.Tx)
	}))

	return res, nil
}

// partition splits coins into spendable ones, largest first, and the value
// of those still pending.
func (e *Estimator) partition(coins []Coin) ([]Coin, btcutil.Amount) {
	var (
		spendable []Coin
		pending   btcutil.Amount
	)
	for _, coin := range coins {
		if coin.Confirmations >= e.cfg.MinConfs || coin.Trusted {
			spendable = append(spendable, coin)
			continue
		}
		pending += coin.Amount
	}

	sort.SliceStable(spendable, func(i, j int) bool {
		a, b := spendable[i], spendable[j]
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		if a.OutPoint.Hash != b.OutPoint.Hash {
			return bytes.Compare(
				a.OutPoint.Hash[:], b.OutPoint.Hash[:],
			) < 0
		}
		return a.OutPoint.Index < b.OutPoint.Index
	})

	return spendable, pending
}

func (e *Estimator) selectCoins(req *Request, spendable []Coin,
	pending btcutil.Amount) (*Result, error) {

	var target btcutil.Amount
	for _, out := range req.Outputs {
		if txrules.IsDustOutput(out, e.cfg.RelayFeePerKb) {
			return nil, ErrDustyOutput
		}
		target += btcutil.Amount(out.Value)
	}

	changeSize := len(req.ChangeScript)

	var total btcutil.Amount
	for i, coin := range spendable {
		total += coin.Amount
		selected := spendable[:i+1]

		feeNoChange := fee(req.FeeRate, len(selected), req.Outputs, 0)
		if total < target+feeNoChange {
			continue
		}

		feeWithChange := fee(
			req.FeeRate, len(selected), req.Outputs, changeSize,
		)
		change := total - target - feeWithChange
		changeOut := wire.NewTxOut(int64(change), req.ChangeScript)
		if change > 0 && !txrules.IsDustOutput(
			changeOut, e.cfg.RelayFeePerKb,
		) {

			return build(
				selected, req.Outputs, req.ChangeScript, change,
				feeWithChange,
			), nil
		}

		// The leftover is too small for a change output, so it goes
		// to the fee.
		return build(
			selected, req.Outputs, nil, 0, total-target,
		), nil
	}

	numInputs := len(spendable)
	if numInputs == 0 {
		numInputs = 1
	}

	return nil, &InsufficientFundsError{
		Missing: target + fee(req.FeeRate, numInputs, req.Outputs, 0) -
			total,
		Pending: pending,
	}
}

func (e *Estimator) emptyWallet(req *Request,
	spendable []Coin) (*Result, error) {

	if len(req.Outputs) != 1 {
		return nil, ErrEmptyWalletOutputs
	}
	if len(spendable) == 0 {
		return nil, ErrCouldNotAdjustDownward
	}

	var total btcutil.Amount
	for _, coin := range spendable {
		total += coin.Amount
	}

	out := wire.NewTxOut(int64(total), req.Outputs[0].PkScript)
	txFee := fee(req.FeeRate, len(spendable), []*wire.TxOut{out}, 0)

	out.Value = int64(total - txFee)
	if out.Value <= 0 || txrules.IsDustOutput(out, e.cfg.RelayFeePerKb) {
		return nil, ErrCouldNotAdjustDownward
	}

	return build(spendable, []*wire.TxOut{out}, nil, 0, txFee), nil
}

// fee returns the fee of a transaction spending numInputs P2WPKH coins.
func fee(rate chainfee.SatPerKVByte, numInputs int, outputs []*wire.TxOut,
	changeScriptSize int) btcutil.Amount {

	vsize := txsizes.EstimateVirtualSize(
		0, 0, numInputs, 0, outputs, changeScriptSize,
	)

	return btcutil.Amount(int64(rate) * int64(vsize) / 1000)
}

func build(coins []Coin, outputs []*wire.TxOut, changeScript []byte,
	change, txFee btcutil.Amount) *Result {

	tx := wire.NewMsgTx(2)
	inputs := make([]Coin, len(coins))
	for i, coin := range coins {
		inputs[i] = coin
		tx.AddTxIn(wire.NewTxIn(&coin.OutPoint, nil, nil))
	}

	var amount btcutil.Amount
	for _, out := range outputs {
		tx.AddTxOut(wire.NewTxOut(
			out.Value, append([]byte(nil), out.PkScript...),
		))
		amount += btcutil.Amount(out.Value)
	}

	changeIndex := -1
	if changeScript != nil {
		changeIndex = len(tx.TxOut)
		tx.AddTxOut(wire.NewTxOut(
			int64(change), append([]byte(nil), changeScript...),
		))
	}

	return &Result{
		Tx:          tx,
		Inputs:      inputs,
		Fee:         txFee,
		Amount:      amount,
		ChangeIndex: changeIndex,
	}
}
