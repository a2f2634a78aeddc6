package keyring

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/stretchr/testify/require"
)

// bip84Seed is the seed of the "abandon ... about" mnemonic without
// passphrase.
const bip84Seed = "5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aa" +
	"ed6f6da5fc19a5ac40b389cd370d086206dec8aa6c43daea6690f20ad3d8d48b2d2" +
	"ce9e38e4"

func newTestKeyRing(t *testing.T, offset byte,
	store KeyStateStore) (*KeyRing, []byte) {

	t.Helper()

	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i) + offset
	}

	account, err := AccountKeyFromSeed(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	kr, err := New(&Config{
		NetParams:     &chaincfg.RegressionNetParams,
		AccountKey:    account,
		KeyStateStore: store,
	})
	require.NoError(t, err)

	return kr, seed
}

// TestKeyRing_BIP84Vectors checks derivation against the BIP84 test
// vectors.
func TestKeyRing_BIP84Vectors(t *testing.T) {
	t.Parallel()

	seed, err := hex.DecodeString(bip84Seed)
	require.NoError(t, err)

	account, err := AccountKeyFromSeed(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)

	kr, err := New(&Config{
		NetParams:  &chaincfg.MainNetParams,
		AccountKey: account,
	})
	require.NoError(t, err)

	ctx := context.Background()

	receive, err := kr.DeriveNextKey(ctx, BranchExternal)
	require.NoError(t, err)
	addr, err := kr.Address(receive)
	require.NoError(t, err)
	require.Equal(
		t, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu",
		addr.EncodeAddress(),
	)

	change, err := kr.DeriveNextKey(ctx, BranchChange)
	require.NoError(t, err)
	addr, err = kr.Address(change)
	require.NoError(t, err)
	require.Equal(
		t, "bc1q8c6fshw2dlwun7ekn9qwf37cu2rn755upcp6el",
		addr.EncodeAddress(),
	)
}

// TestKeyRing_DeriveNextKey tests sequential key derivation.
func TestKeyRing_DeriveNextKey(t *testing.T) {
	t.Parallel()

	kr, _ := newTestKeyRing(t, 0, nil)
	ctx := context.Background()

	key1, err := kr.DeriveNextKey(ctx, BranchExternal)
	require.NoError(t, err)
	require.Equal(t, BranchExternal, key1.Family)
	require.Equal(t, uint32(0), key1.Index)

	key2, err := kr.DeriveNextKey(ctx, BranchExternal)
	require.NoError(t, err)
	require.Equal(t, uint32(1), key2.Index)
	require.NotEqual(t,
		key1.PubKey.SerializeCompressed(),
		key2.PubKey.SerializeCompressed(),
	)

	// The current key does not advance the branch.
	current, err := kr.CurrentKey(BranchExternal)
	require.NoError(t, err)
	require.Equal(t, key2.KeyLocator, current.KeyLocator)

	current, err = kr.CurrentKey(BranchChange)
	require.NoError(t, err)
	require.Equal(t, uint32(0), current.Index)

	_, err = kr.DeriveNextKey(ctx, keychain.KeyFamily(9))
	require.ErrorIs(t, err, ErrUnknownBranch)
}

// TestKeyRing_IsLocalKey tests local key identification.
func TestKeyRing_IsLocalKey(t *testing.T) {
	t.Parallel()

	kr, _ := newTestKeyRing(t, 2, nil)
	ctx := context.Background()

	key, err := kr.DeriveNextKey(ctx, BranchChange)
	require.NoError(t, err)
	require.True(t, kr.IsLocalKey(ctx, key))

	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	require.False(t, kr.IsLocalKey(ctx, keychain.KeyDescriptor{
		KeyLocator: key.KeyLocator,
		PubKey:     privKey.PubKey(),
	}))
	require.False(t, kr.IsLocalKey(ctx, keychain.KeyDescriptor{
		KeyLocator: key.KeyLocator,
	}))
}

// TestKeyRing_Scripts tests script lookup and gap scanning.
func TestKeyRing_Scripts(t *testing.T) {
	t.Parallel()

	kr, seed := newTestKeyRing(t, 3, nil)
	ctx := context.Background()

	key, err := kr.DeriveNextKey(ctx, BranchExternal)
	require.NoError(t, err)
	addr, err := kr.Address(key)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	loc, ok := kr.LookupScript(pkScript)
	require.True(t, ok)
	require.Equal(t, key.KeyLocator, loc)

	_, ok = kr.LookupScript([]byte{0x51})
	require.False(t, ok)

	// One issued external key plus a gap of 5 on both branches.
	known, err := kr.KnownScripts(5)
	require.NoError(t, err)
	require.Len(t, known, 11)

	privKey, err := DerivePrivKey(
		seed, &chaincfg.RegressionNetParams, key.KeyLocator,
	)
	require.NoError(t, err)
	require.True(t, privKey.PubKey().IsEqual(key.PubKey))
}

// TestKeyRing_PersistsIndexes tests that indexes survive a restart.
func TestKeyRing_PersistsIndexes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keystate.json")
	store, err := NewFileKeyStateStore(path)
	require.NoError(t, err)

	kr, _ := newTestKeyRing(t, 4, store)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := kr.DeriveNextKey(ctx, BranchChange)
		require.NoError(t, err)
	}

	reopened, err := NewFileKeyStateStore(path)
	require.NoError(t, err)
	indexes, err := reopened.Indexes()
	require.NoError(t, err)
	require.Equal(t, uint32(3), indexes[BranchChange])

	kr2, _ := newTestKeyRing(t, 4, reopened)
	next, err := kr2.DeriveNextKey(ctx, BranchChange)
	require.NoError(t, err)
	require.Equal(t, uint32(3), next.Index)
}

// TestMemoryKeyStateStore tests the in-memory store.
func TestMemoryKeyStateStore(t *testing.T) {
	t.Parallel()

	store := NewMemoryKeyStateStore()
	require.NoError(t, store.SetIndex(BranchExternal, 7))

	indexes, err := store.Indexes()
	require.NoError(t, err)
	require.Equal(t, uint32(7), indexes[BranchExternal])

	// Callers get a copy.
	indexes[BranchExternal] = 1
	again, err := store.Indexes()
	require.NoError(t, err)
	require.Equal(t, uint32(7), again[BranchExternal])
}
