package hdwallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/lightninglabs/sendcoins/chain/mempool"
	"github.com/lightninglabs/sendcoins/dryrun"
	"github.com/lightninglabs/sendcoins/keyring"
	"github.com/lightninglabs/sendcoins/wallet"
	"github.com/lightningnetwork/lnd/clock"
)

// credit is a wallet coin. Trusted credits are unconfirmed change of our
// own transactions.
type credit struct {
	wtxmgr.Credit

	trusted bool
}

// Wallet is a single-account BIP84 wallet synced from an esplora backend.
// It implements wallet.Wallet.
type Wallet struct {
	cfg *Config

	keyRing   *keyring.KeyRing
	estimator *dryrun.Estimator
	locks     *coinLocks

	keystore  *Keystore
	credits   map[wire.OutPoint]*credit
	tipHeight int32

	mu sync.RWMutex
}

// A compile time check to ensure Wallet implements wallet.Wallet.
var _ wallet.Wallet = (*Wallet)(nil)

// New creates a new Wallet.
func New(cfg *Config) (*Wallet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.GapLimit == 0 {
		cfg.GapLimit = keyring.DefaultGapLimit
	}
	if cfg.LockDuration == 0 {
		cfg.LockDuration = DefaultLockDuration
	}
	if cfg.RelayFeePerKb == 0 {
		cfg.RelayFeePerKb = txrules.DefaultRelayFeePerKb
	}

	var (
		account *hdkeychain.ExtendedKey
		err     error
	)
	if cfg.Keystore != nil {
		account, err = hdkeychain.NewKeyFromString(
			cfg.Keystore.AccountXPub,
		)
	} else {
		account, err = keyring.AccountKeyFromSeed(
			cfg.Seed, cfg.NetParams,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account key: %w", err)
	}

	keyRing, err := keyring.New(&keyring.Config{
		NetParams:     cfg.NetParams,
		AccountKey:    account,
		KeyStateStore: cfg.KeyStateStore,
	})
	if err != nil {
		return nil, err
	}

	// Derive the gap so ownership checks know every watched script.
	if _, err := keyRing.KnownScripts(cfg.GapLimit); err != nil {
		return nil, err
	}

	return &Wallet{
		cfg:     cfg,
		keyRing: keyRing,
		estimator: dryrun.NewEstimator(&dryrun.Config{
			MinConfs:      cfg.MinConfs,
			RelayFeePerKb: cfg.RelayFeePerKb,
		}),
		locks:    newCoinLocks(cfg.Clock),
		keystore: cfg.Keystore,
		credits:  make(map[wire.OutPoint]*credit),
	}, nil
}

// Estimator returns the estimator the wallet builds transactions with.
// Dry runs must use it to agree with the wallet on spendable coins and
// dust.
func (w *Wallet) Estimator() *dryrun.Estimator {
	return w.estimator
}

// Sync refreshes the coins of every watched script from the backend.
func (w *Wallet) Sync(ctx context.Context) error {
	height, err := w.cfg.Source.GetCurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("failed to get tip height: %w", err)
	}

	known, err := w.keyRing.KnownScripts(w.cfg.GapLimit)
	if err != nil {
		return err
	}

	now := w.cfg.Clock.Now()
	synced := make(map[wire.OutPoint]*credit)
	for _, script := range known {
		utxos, err := w.cfg.Source.GetAddressUTXOs(ctx, script.Address)
		if err != nil {
			return fmt.Errorf("failed to get utxos of %v: %w",
				script.Address, err)
		}

		for _, utxo := range utxos {
			c, err := newCredit(utxo, script.PkScript, now)
			if err != nil {
				return err
			}
			synced[c.OutPoint] = c
		}
	}

	w.locks.cleanupExpired()

	w.mu.Lock()
	defer w.mu.Unlock()

	// Own change the backend has not indexed yet stays around, and stays
	// trusted once it shows up.
	for outpoint, c := range w.credits {
		if !c.trusted {
			continue
		}
		if s, ok := synced[outpoint]; ok {
			s.trusted = true
			continue
		}
		synced[outpoint] = c
	}

	w.credits = synced
	w.tipHeight = int32(height)

	log.Debugf("Synced %d coins at height %d", len(synced), height)

	return nil
}

// newCredit converts a backend UTXO into a credit.
func newCredit(utxo mempool.UTXO, pkScript []byte,
	received time.Time) (*credit, error) {

	hash, err := chainhash.NewHashFromStr(utxo.TxID)
	if err != nil {
		return nil, fmt.Errorf("invalid txid %v: %w", utxo.TxID, err)
	}

	c := &credit{
		Credit: wtxmgr.Credit{
			OutPoint: wire.OutPoint{Hash: *hash, Index: utxo.Vout},
			Amount:   btcutil.Amount(utxo.Value),
			PkScript: pkScript,
			Received: received,
		},
	}
	c.BlockMeta.Height = -1
	if utxo.Status.Confirmed {
		c.BlockMeta.Height = int32(utxo.Status.BlockHeight)
		c.BlockMeta.Time = time.Unix(utxo.Status.BlockTime, 0)
	}

	return c, nil
}

// Balance returns the balance of the given type. Locked coins are never
// counted.
func (w *Wallet) Balance(ctx context.Context,
	typ wallet.BalanceType) (btcutil.Amount, error) {

	coins, err := w.Coins(ctx)
	if err != nil {
		return 0, err
	}

	var balance btcutil.Amount
	for _, coin := range coins {
		if typ == wallet.BalanceAvailable && !w.spendable(coin) {
			continue
		}
		balance += coin.Amount
	}

	return balance, nil
}

func (w *Wallet) spendable(coin dryrun.Coin) bool {
	return coin.Trusted || coin.Confirmations >= w.cfg.MinConfs
}

// Coins returns every unlocked coin.
func (w *Wallet) Coins(_ context.Context) ([]dryrun.Coin, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	coins := make([]dryrun.Coin, 0, len(w.credits))
	for outpoint, c := range w.credits {
		if w.locks.isLocked(outpoint) {
			continue
		}

		var confs int32
		if c.BlockMeta.Height > 0 && w.tipHeight >= c.BlockMeta.Height {
			confs = w.tipHeight - c.BlockMeta.Height + 1
		}

		coins = append(coins, dryrun.Coin{
			OutPoint:      outpoint,
			Amount:        c.Amount,
			PkScript:      c.PkScript,
			Confirmations: confs,
			Trusted:       c.trusted,
		})
	}

	return coins, nil
}

// CurrentReceiveAddress returns the current receive address.
func (w *Wallet) CurrentReceiveAddress() (btcutil.Address, error) {
	key, err := w.keyRing.CurrentKey(keyring.BranchExternal)
	if err != nil {
		return nil, err
	}

	return w.keyRing.Address(key)
}

// CurrentChangeScript returns the script of the current change address.
// All change scripts have the same size, so it stands in for the change of
// dry runs.
func (w *Wallet) CurrentChangeScript() ([]byte, error) {
	key, err := w.keyRing.CurrentKey(keyring.BranchChange)
	if err != nil {
		return nil, err
	}

	addr, err := w.keyRing.Address(key)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}

// IsAddressMine reports whether addr is one of the watched addresses.
func (w *Wallet) IsAddressMine(addr btcutil.Address) bool {
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return false
	}

	_, ok := w.keyRing.LookupScript(pkScript)
	return ok
}

// IsEncrypted reports whether signing needs an encryption key.
func (w *Wallet) IsEncrypted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.keystore != nil
}

// DeriveKey derives the encryption key from passphrase. A keystore
// encrypted with a work factor below workFactor is re-encrypted, which
// needs a correct passphrase.
func (w *Wallet) DeriveKey(ctx context.Context, passphrase string,
	workFactor uint64) (wallet.EncryptionKey, bool, error) {

	w.mu.RLock()
	ks := w.keystore
	w.mu.RUnlock()

	if ks == nil {
		return nil, false, wallet.ErrNotEncrypted
	}

	key, err := ks.DeriveKey(passphrase)
	if err != nil {
		return nil, false, err
	}
	if ks.N >= workFactor {
		return key, false, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	seed, err := ks.Decrypt(key)
	if err != nil {
		return nil, false, err
	}

	upgraded, newKey, err := encryptSeed(
		seed, passphrase, ks.AccountXPub, workFactor,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upgrade keystore: %w",
			err)
	}

	if w.cfg.KeystorePath != "" {
		if err := upgraded.Save(w.cfg.KeystorePath); err != nil {
			return nil, false, fmt.Errorf("failed to save "+
				"keystore: %w", err)
		}
	}

	w.mu.Lock()
	w.keystore = upgraded
	w.mu.Unlock()

	log.Infof("Upgraded keystore work factor from %d to %d", ks.N,
		workFactor)

	return newKey, true, nil
}

// SignAndCommit selects coins, signs the transaction and removes the spent
// coins from the wallet. Change is paid to a fresh change address and is
// trusted right away.
func (w *Wallet) SignAndCommit(ctx context.Context,
	req *wallet.SendRequest) (*wallet.SendResult, error) {

	seed, err := w.seed(req.Key)
	if err != nil {
		return nil, err
	}

	coins, err := w.Coins(ctx)
	if err != nil {
		return nil, err
	}
	changeScript, err := w.CurrentChangeScript()
	if err != nil {
		return nil, err
	}

	res, err := w.estimator.Estimate(ctx, &dryrun.Request{
		Outputs:      req.Outputs,
		EmptyWallet:  req.EmptyWallet,
		FeeRate:      req.FeeRate,
		Coins:        coins,
		ChangeScript: changeScript,
	})
	if err != nil {
		return nil, err
	}

	if res.ChangeIndex >= 0 {
		key, err := w.keyRing.DeriveNextKey(ctx, keyring.BranchChange)
		if err != nil {
			return nil, err
		}
		addr, err := w.keyRing.Address(key)
		if err != nil {
			return nil, err
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}
		res.Tx.TxOut[res.ChangeIndex].PkScript = script
	}

	for i, coin := range res.Inputs {
		err := w.locks.lock(coin.OutPoint, w.cfg.LockDuration)
		if err != nil {
			w.unlock(res.Inputs[:i])
			return nil, fmt.Errorf("coin %v: %w", coin.OutPoint, err)
		}
	}

	tx, err := w.sign(res, seed)
	if err != nil {
		w.unlock(res.Inputs)
		return nil, err
	}

	w.commit(tx, res)

	log.Infof("Committed transaction %v (memo=%q) paying %v with fee %v",
		tx.TxHash(), req.Memo, res.Amount, res.Fee)

	return &wallet.SendResult{
		Tx:     tx,
		Fee:    res.Fee,
		Amount: res.Amount,
	}, nil
}

// FreshRefundAddress issues a new receive address.
func (w *Wallet) FreshRefundAddress(ctx context.Context) (btcutil.Address,
	error) {

	key, err := w.keyRing.DeriveNextKey(ctx, keyring.BranchExternal)
	if err != nil {
		return nil, err
	}

	return w.keyRing.Address(key)
}

// seed returns the wallet seed, decrypting it with key if needed.
func (w *Wallet) seed(key wallet.EncryptionKey) ([]byte, error) {
	w.mu.RLock()
	ks := w.keystore
	w.mu.RUnlock()

	if ks == nil {
		return w.cfg.Seed, nil
	}
	if len(key) == 0 {
		return nil, wallet.ErrInvalidEncryptionKey
	}

	return ks.Decrypt(key)
}

// commit removes the spent coins and adds the change. The inputs stay
// locked so a sync racing the broadcast does not bring them back.
func (w *Wallet) commit(tx *wire.MsgTx, res *dryrun.Result) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, coin := range res.Inputs {
		delete(w.credits, coin.OutPoint)
	}

	if res.ChangeIndex < 0 {
		return
	}

	txOut := tx.TxOut[res.ChangeIndex]
	c := &credit{
		Credit: wtxmgr.Credit{
			OutPoint: wire.OutPoint{
				Hash:  tx.TxHash(),
				Index: uint32(res.ChangeIndex),
			},
			Amount:   btcutil.Amount(txOut.Value),
			PkScript: txOut.PkScript,
			Received: w.cfg.Clock.Now(),
		},
		trusted: true,
	}
	c.BlockMeta.Height = -1
	w.credits[c.OutPoint] = c
}

func (w *Wallet) unlock(coins []dryrun.Coin) {
	for _, coin := range coins {
		if err := w.locks.unlock(coin.OutPoint); err != nil {
			log.Debugf("Unlock %v: %v", coin.OutPoint, err)
		}
	}
}
