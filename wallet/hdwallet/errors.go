package hdwallet

import "errors"

var (
	// ErrInvalidNetParams is returned when network parameters are invalid.
	ErrInvalidNetParams = errors.New("invalid network parameters")

	// ErrSourceRequired is returned when no UTXO source is provided.
	ErrSourceRequired = errors.New("utxo source is required")

	// ErrSeedRequired is returned when neither a seed nor a keystore is
	// provided.
	ErrSeedRequired = errors.New("seed or keystore is required")

	// ErrAmbiguousSeed is returned when both a seed and a keystore are
	// provided.
	ErrAmbiguousSeed = errors.New("seed and keystore are mutually " +
		"exclusive")

	// ErrKeyNotFound is returned when an input is not owned by the
	// wallet.
	ErrKeyNotFound = errors.New("key not found")

	// ErrUTXOLocked is returned when UTXO is already locked.
	ErrUTXOLocked = errors.New("UTXO is locked")

	// ErrUTXONotLocked is returned when trying to unlock a non-locked UTXO.
	ErrUTXONotLocked = errors.New("UTXO is not locked")

	// ErrWorkFactor is returned for a scrypt work factor that is not a
	// power of two above one, or that exceeds the supported maximum.
	ErrWorkFactor = errors.New("work factor must be a power of two " +
		"between 2 and 2^20")

	// ErrScryptParams is returned for a keystore with unusable scrypt
	// block size or parallelization parameters.
	ErrScryptParams = errors.New("invalid scrypt parameters")
)
