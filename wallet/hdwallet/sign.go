package hdwallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightninglabs/sendcoins/dryrun"
	"github.com/lightninglabs/sendcoins/keyring"
)

// sign signs every input of a dry run result through a PSBT and returns
// the final transaction.
func (w *Wallet) sign(res *dryrun.Result, seed []byte) (*wire.MsgTx, error) {
	packet, err := psbt.NewFromUnsignedTx(res.Tx)
	if err != nil {
		return nil, fmt.Errorf("failed to create PSBT: %w", err)
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, err
	}

	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	for i, coin := range res.Inputs {
		txOut := wire.NewTxOut(int64(coin.Amount), coin.PkScript)
		prevOuts.AddPrevOut(coin.OutPoint, txOut)

		if err := updater.AddInWitnessUtxo(txOut, i); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}

	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, prevOuts)
	for i, coin := range res.Inputs {
		if !txscript.IsPayToWitnessPubKeyHash(coin.PkScript) {
			return nil, fmt.Errorf("input %d: unsupported script "+
				"type", i)
		}

		loc, ok := w.keyRing.LookupScript(coin.PkScript)
		if !ok {
			return nil, fmt.Errorf("input %d: %w", i, ErrKeyNotFound)
		}

		privKey, err := keyring.DerivePrivKey(
			seed, w.cfg.NetParams, loc,
		)
		if err != nil {
			return nil, err
		}

		sig, err := txscript.RawTxInWitnessSignature(
			packet.UnsignedTx, sigHashes, i, int64(coin.Amount),
			coin.PkScript, txscript.SigHashAll, privKey,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to sign input %d: %w",
				i, err)
		}

		_, err = updater.Sign(
			i, sig, privKey.PubKey().SerializeCompressed(), nil,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to add signature %d: %w",
				i, err)
		}
	}

	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("failed to finalize PSBT: %w", err)
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, fmt.Errorf("failed to extract transaction: %w", err)
	}

	log.Tracef("Signed transaction: %v", newLogClosure(func() string {
		return spew.Sdump(tx)
	}))

	return tx, nil
}
