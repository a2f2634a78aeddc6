package hdwallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/sendcoins/keyring"
	"github.com/lightninglabs/sendcoins/wallet"
	"golang.org/x/crypto/scrypt"
)

const (
	scryptR     = 8
	scryptP     = 1
	scryptDKLen = 32
	saltLen     = 32

	// maxWorkFactor bounds the scrypt N accepted from a keystore. Key
	// derivation needs 128*r*N bytes of memory.
	maxWorkFactor = 1 << 20

	// maxScryptParam bounds r and p read from a keystore.
	maxScryptParam = 64
)

// Keystore is a wallet seed encrypted with AES-256-GCM under a key derived
// from a passphrase with scrypt. The account xpub is stored in the clear
// so addresses can be derived without the passphrase.
type Keystore struct {
	AccountXPub string `json:"account_xpub"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	CipherText  []byte `json:"ciphertext"`
	N           uint64 `json:"n"`
	R           int    `json:"r"`
	P           int    `json:"p"`
}

// NewKeystore encrypts seed under passphrase with scrypt work factor n.
func NewKeystore(seed []byte, passphrase string, params *chaincfg.Params,
	n uint64) (*Keystore, error) {

	account, err := keyring.AccountKeyFromSeed(seed, params)
	if err != nil {
		return nil, err
	}
	xpub, err := account.Neuter()
	if err != nil {
		return nil, err
	}

	ks, _, err := encryptSeed(seed, passphrase, xpub.String(), n)
	return ks, err
}

// LoadKeystore reads a keystore file.
func LoadKeystore(path string) (*Keystore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ks Keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("failed to parse keystore: %w", err)
	}
	if err := ks.validate(); err != nil {
		return nil, err
	}

	return &ks, nil
}

// validate checks the scrypt parameters before they are used to allocate
// memory.
func (k *Keystore) validate() error {
	if err := validateWorkFactor(k.N); err != nil {
		return err
	}
	if k.R < 1 || k.R > maxScryptParam || k.P < 1 ||
		k.P > maxScryptParam {

		return fmt.Errorf("%w: r=%d p=%d", ErrScryptParams, k.R, k.P)
	}

	return nil
}

func validateWorkFactor(n uint64) error {
	if n < 2 || n > maxWorkFactor || n&(n-1) != 0 {
		return fmt.Errorf("%w: %d", ErrWorkFactor, n)
	}

	return nil
}

// Save writes the keystore through a temporary file.
func (k *Keystore) Save(path string) error {
	data, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keystore: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".keystore-*")
	if err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// DeriveKey stretches passphrase into the encryption key. A wrong
// passphrase is only detected when the key is used.
func (k *Keystore) DeriveKey(passphrase string) (wallet.EncryptionKey,
	error) {

	if err := k.validate(); err != nil {
		return nil, err
	}

	key, err := scrypt.Key(
		[]byte(passphrase), k.Salt, int(k.N), k.R, k.P, scryptDKLen,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return key, nil
}

// Decrypt returns the seed.
func (k *Keystore) Decrypt(key wallet.EncryptionKey) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, wallet.ErrInvalidEncryptionKey
	}

	seed, err := gcm.Open(nil, k.Nonce, k.CipherText, nil)
	if err != nil {
		return nil, wallet.ErrInvalidEncryptionKey
	}

	return seed, nil
}

// encryptSeed creates a keystore for seed and returns it along with its
// encryption key.
func encryptSeed(seed []byte, passphrase, xpub string,
	n uint64) (*Keystore, wallet.EncryptionKey, error) {

	if err := validateWorkFactor(n); err != nil {
		return nil, nil, err
	}

	ks := &Keystore{
		AccountXPub: xpub,
		Salt:        make([]byte, saltLen),
		N:           n,
		R:           scryptR,
		P:           scryptP,
	}
	if _, err := io.ReadFull(rand.Reader, ks.Salt); err != nil {
		return nil, nil, err
	}

	key, err := ks.DeriveKey(passphrase)
	if err != nil {
		return nil, nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	ks.Nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, ks.Nonce); err != nil {
		return nil, nil, err
	}
	ks.CipherText = gcm.Seal(nil, ks.Nonce, seed, nil)

	return ks, key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}
