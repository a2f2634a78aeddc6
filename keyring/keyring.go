package keyring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/keychain"
)

const (
	// DefaultGapLimit is the number of unused addresses scanned past the
	// last issued one on every branch.
	DefaultGapLimit = 20

	// BranchExternal is the branch receive and refund addresses are
	// derived on.
	BranchExternal keychain.KeyFamily = 0

	// BranchChange is the branch change addresses are derived on.
	BranchChange keychain.KeyFamily = 1

	// defaultAccount is the only account the wallet uses.
	defaultAccount = 0
)

var (
	// ErrNoAccountKey is returned when a key ring is created without an
	// account key.
	ErrNoAccountKey = errors.New("account key is required")

	// ErrUnknownBranch is returned for branches other than external and
	// change.
	ErrUnknownBranch = errors.New("unknown branch")
)

// Branches lists every branch keys are derived on.
var Branches = []keychain.KeyFamily{BranchExternal, BranchChange}

// Config holds the configuration for the KeyRing.
type Config struct {
	// NetParams is the network parameters.
	NetParams *chaincfg.Params

	// AccountKey is the extended key of the BIP84 account. Only its
	// public half is used.
	AccountKey *hdkeychain.ExtendedKey

	// KeyStateStore is optional storage for key indexes.
	// If nil, indexes are kept in memory only.
	KeyStateStore KeyStateStore
}

// KnownScript is an output script the key ring derived.
type KnownScript struct {
	// Locator locates the key of the script.
	Locator keychain.KeyLocator

	// Address is the P2WPKH address of the key.
	Address btcutil.Address

	// PkScript is the output script of Address.
	PkScript []byte
}

// KeyRing derives the BIP84 P2WPKH keys of a single account. It holds no
// private keys.
//
// Derivation path: m / 84' / coin_type' / 0' / branch / index
type KeyRing struct {
	cfg *Config

	accountKey *hdkeychain.ExtendedKey

	// Next index to issue on each branch.
	branchIndexes map[keychain.KeyFamily]uint32

	// Every script derived so far, keyed by the script bytes.
	scripts map[string]KnownScript

	mu sync.RWMutex
}

// AccountKeyFromSeed derives the BIP84 account key from a wallet seed.
func AccountKeyFromSeed(seed []byte,
	params *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {

	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	scope := waddrmgr.KeyScopeBIP0084
	path := []uint32{
		hdkeychain.HardenedKeyStart + scope.Purpose,
		hdkeychain.HardenedKeyStart + params.HDCoinType,
		hdkeychain.HardenedKeyStart + defaultAccount,
	}

	key := master
	for _, child := range path {
		key, err = key.Derive(child)
		if err != nil {
			return nil, fmt.Errorf("failed to derive account: %w",
				err)
		}
	}

	return key, nil
}

// DerivePrivKey derives the private key at loc from a wallet seed.
func DerivePrivKey(seed []byte, params *chaincfg.Params,
	loc keychain.KeyLocator) (*btcec.PrivateKey, error) {

	account, err := AccountKeyFromSeed(seed, params)
	if err != nil {
		return nil, err
	}

	key, err := deriveChild(account, loc)
	if err != nil {
		return nil, err
	}

	return key.ECPrivKey()
}

// New creates a new KeyRing.
func New(cfg *Config) (*KeyRing, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.AccountKey == nil {
		return nil, ErrNoAccountKey
	}
	if cfg.NetParams == nil {
		return nil, fmt.Errorf("network params required")
	}

	accountKey, err := cfg.AccountKey.Neuter()
	if err != nil {
		return nil, fmt.Errorf("failed to neuter account key: %w", err)
	}

	kr := &KeyRing{
		cfg:           cfg,
		accountKey:    accountKey,
		branchIndexes: make(map[keychain.KeyFamily]uint32),
		scripts:       make(map[string]KnownScript),
	}

	// Load key indexes from store if available
	if cfg.KeyStateStore != nil {
		indexes, err := cfg.KeyStateStore.Indexes()
		if err != nil {
			return nil, fmt.Errorf("failed to load key indexes: %w",
				err)
		}
		for branch, index := range indexes {
			kr.branchIndexes[branch] = index
		}
	}

	return kr, nil
}

// DeriveNextKey issues the next key on the given branch.
func (kr *KeyRing) DeriveNextKey(_ context.Context,
	branch keychain.KeyFamily) (keychain.KeyDescriptor, error) {

	if err := checkBranch(branch); err != nil {
		return keychain.KeyDescriptor{}, err
	}

	kr.mu.Lock()
	defer kr.mu.Unlock()

	index := kr.branchIndexes[branch]
	desc, err := kr.deriveLocked(keychain.KeyLocator{
		Family: branch,
		Index:  index,
	})
	if err != nil {
		return keychain.KeyDescriptor{}, err
	}

	kr.branchIndexes[branch] = index + 1

	if kr.cfg.KeyStateStore != nil {
		err := kr.cfg.KeyStateStore.SetIndex(branch, index+1)
		if err != nil {
			// We still hand out the key, a reused index only costs
			// privacy.
			log.Warnf("Failed to persist key index: %v", err)
		}
	}

	return desc, nil
}

// CurrentKey returns the most recently issued key on a branch without
// issuing a new one. If no key was issued yet, the first key is returned.
func (kr *KeyRing) CurrentKey(
	branch keychain.KeyFamily) (keychain.KeyDescriptor, error) {

	if err := checkBranch(branch); err != nil {
		return keychain.KeyDescriptor{}, err
	}

	kr.mu.Lock()
	defer kr.mu.Unlock()

	index := kr.branchIndexes[branch]
	if index > 0 {
		index--
	}

	return kr.deriveLocked(keychain.KeyLocator{
		Family: branch,
		Index:  index,
	})
}

// Address returns the P2WPKH address of a key.
func (kr *KeyRing) Address(desc keychain.KeyDescriptor) (btcutil.Address,
	error) {

	return btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(desc.PubKey.SerializeCompressed()),
		kr.cfg.NetParams,
	)
}

// LookupScript returns the locator of a script derived earlier.
func (kr *KeyRing) LookupScript(pkScript []byte) (keychain.KeyLocator, bool) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	known, ok := kr.scripts[string(pkScript)]
	return known.Locator, ok
}

// KnownScripts derives every script up to gap past the last issued index
// on each branch.
func (kr *KeyRing) KnownScripts(gap uint32) ([]KnownScript, error) {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	var known []KnownScript
	for _, branch := range Branches {
		end := kr.branchIndexes[branch] + gap
		for index := uint32(0); index < end; index++ {
			loc := keychain.KeyLocator{Family: branch, Index: index}
			if _, err := kr.deriveLocked(loc); err != nil {
				return nil, err
			}
		}
	}
	for _, script := range kr.scripts {
		known = append(known, script)
	}

	return known, nil
}

// IsLocalKey checks if a key is controlled by this wallet.
func (kr *KeyRing) IsLocalKey(_ context.Context,
	keyDesc keychain.KeyDescriptor) bool {

	if keyDesc.PubKey == nil || checkBranch(keyDesc.Family) != nil {
		return false
	}

	key, err := deriveChild(kr.accountKey, keyDesc.KeyLocator)
	if err != nil {
		return false
	}

	pubKey, err := key.ECPubKey()
	if err != nil {
		return false
	}

	return pubKey.IsEqual(keyDesc.PubKey)
}

// deriveLocked derives the key at loc and records its script. The caller
// must hold the write lock.
func (kr *KeyRing) deriveLocked(
	loc keychain.KeyLocator) (keychain.KeyDescriptor, error) {

	key, err := deriveChild(kr.accountKey, loc)
	if err != nil {
		return keychain.KeyDescriptor{}, fmt.Errorf("failed to derive "+
			"key: %w", err)
	}

	pubKey, err := key.ECPubKey()
	if err != nil {
		return keychain.KeyDescriptor{}, fmt.Errorf("failed to get "+
			"public key: %w", err)
	}

	desc := keychain.KeyDescriptor{
		KeyLocator: loc,
		PubKey:     pubKey,
	}

	addr, err := kr.Address(desc)
	if err != nil {
		return keychain.KeyDescriptor{}, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return keychain.KeyDescriptor{}, err
	}
	kr.scripts[string(pkScript)] = KnownScript{
		Locator:  loc,
		Address:  addr,
		PkScript: pkScript,
	}

	return desc, nil
}

// deriveChild derives account / branch / index.
func deriveChild(account *hdkeychain.ExtendedKey,
	loc keychain.KeyLocator) (*hdkeychain.ExtendedKey, error) {

	key, err := account.Derive(uint32(loc.Family))
	if err != nil {
		return nil, fmt.Errorf("failed to derive branch: %w", err)
	}

	key, err = key.Derive(loc.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive index: %w", err)
	}

	return key, nil
}

func checkBranch(branch keychain.KeyFamily) error {
	if branch != BranchExternal && branch != BranchChange {
		return fmt.Errorf("%w: %d", ErrUnknownBranch, branch)
	}

	return nil
}
