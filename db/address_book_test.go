package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var testTime = time.Unix(1_700_000_000, 0)

func newTestAddressBook(t *testing.T, cfg *Config) *AddressBook {
	t.Helper()

	book, err := Open(cfg, clock.NewTestClock(testTime))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, book.Close())
	})

	return book
}

func memoryConfig() *Config {
	cfg := DefaultConfig("")
	cfg.UseMemory = true

	return cfg
}

func TestAddressBook(t *testing.T) {
	t.Parallel()

	book := newTestAddressBook(t, memoryConfig())
	ctx := context.Background()

	const addr = "bcrt1qyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyn7h6p9"

	label, err := book.Label(ctx, addr)
	require.NoError(t, err)
	require.Empty(t, label)

	// The miss above was cached, adding a label must replace it.
	require.NoError(t, book.AddLabel(ctx, addr, "Coffee"))
	label, err = book.Label(ctx, " "+addr+" ")
	require.NoError(t, err)
	require.Equal(t, "Coffee", label)

	err = book.AddLabel(ctx, addr, "Tea")
	require.ErrorIs(t, err, ErrLabelExists)

	require.NoError(t, book.AddLabel(ctx, "bcrt1qaaa", "Alice"))
	labels, err := book.Labels(ctx)
	require.NoError(t, err)
	require.Equal(t, []AddressLabel{{
		Address:   "bcrt1qaaa",
		Label:     "Alice",
		CreatedAt: testTime.Unix(),
	}, {
		Address:   addr,
		Label:     "Coffee",
		CreatedAt: testTime.Unix(),
	}}, labels)

	require.NoError(t, book.DeleteLabel(ctx, addr))
	require.ErrorIs(t, book.DeleteLabel(ctx, addr), ErrLabelNotFound)

	label, err = book.Label(ctx, addr)
	require.NoError(t, err)
	require.Empty(t, label)

	_, err = book.Label(ctx, "  ")
	require.ErrorIs(t, err, ErrEmptyAddress)
	require.ErrorIs(t, book.AddLabel(ctx, "", "x"), ErrEmptyAddress)
}

func TestAddressBookPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "addressbook.db")
	ctx := context.Background()

	book, err := Open(DefaultConfig(path), nil)
	require.NoError(t, err)
	require.NoError(t, book.AddLabel(ctx, "bcrt1qbbb", "Bob"))
	require.NoError(t, book.Close())

	// The second open finds the schema in place.
	reopened := newTestAddressBook(t, DefaultConfig(path))
	label, err := reopened.Label(ctx, "bcrt1qbbb")
	require.NoError(t, err)
	require.Equal(t, "Bob", label)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  *Config
		ok   bool
	}{{
		name: "sqlite file",
		cfg:  DefaultConfig("labels.db"),
		ok:   true,
	}, {
		name: "sqlite memory",
		cfg:  memoryConfig(),
		ok:   true,
	}, {
		name: "sqlite without path",
		cfg:  DefaultConfig(""),
	}, {
		name: "postgres without dsn",
		cfg: &Config{
			Backend:   BackendTypePostgres,
			CacheSize: 1,
		},
	}, {
		name: "postgres",
		cfg: &Config{
			Backend:     BackendTypePostgres,
			PostgresDSN: "postgres://localhost/labels",
			CacheSize:   1,
		},
		ok: true,
	}, {
		name: "no cache",
		cfg: &Config{
			Backend: BackendTypeSqlite,
			DBPath:  "labels.db",
		},
	}, {
		name: "unknown backend",
		cfg: &Config{
			Backend:   BackendType(7),
			CacheSize: 1,
		},
	}}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Open(nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMapSQLError(t *testing.T) {
	t.Parallel()

	var uniqueErr *UniqueConstraintError

	err := mapSQLError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
	require.ErrorAs(t, err, &uniqueErr)

	err = mapSQLError(&pq.Error{Code: pgerrcode.UniqueViolation})
	require.ErrorAs(t, err, &uniqueErr)

	err = mapSQLError(&pgconn.PgError{Code: pgerrcode.DeadlockDetected})
	require.False(t, errors.As(err, &uniqueErr))

	plain := errors.New("connection reset")
	require.Equal(t, plain, mapSQLError(plain))
}
