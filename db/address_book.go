package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/lnd/clock"

	// Register the postgres driver.
	_ "github.com/jackc/pgx/v4/stdlib"

	// Register the sqlite driver.
	_ "modernc.org/sqlite"
)

const (
	// sqliteOptions are the pragmas every sqlite connection uses.
	sqliteOptions = "_pragma=foreign_keys=on&" +
		"_pragma=journal_mode=WAL&_pragma=busy_timeout=5000&" +
		"_txlock=immediate"
)

// AddressLabel is a label the user gave to an address.
type AddressLabel struct {
	// Address is the encoded address.
	Address string

	// Label is the name shown for the address.
	Label string

	// CreatedAt is when the label was added, in unix seconds.
	CreatedAt int64
}

// cachedLabel is a cache entry. An empty label records that the address
// has none.
type cachedLabel string

// Size returns the cache weight of the entry.
func (c cachedLabel) Size() (uint64, error) {
	return 1, nil
}

var _ cache.Value = cachedLabel("")

// AddressBook stores address labels in sqlite or postgres. Lookups are
// served from an LRU cache.
type AddressBook struct {
	db      *sql.DB
	backend BackendType
	clock   clock.Clock
	labels  *lru.Cache[string, cachedLabel]
}

// Open opens the database cfg names, applies migrations and returns the
// address book on top of it.
func Open(cfg *Config, clk clock.Clock) (*AddressBook, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	if !cfg.SkipMigrations {
		if err := applyMigrations(db, cfg.Backend); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	log.Infof("Opened %v address book", cfg.Backend)

	return &AddressBook{
		db:      db,
		backend: cfg.Backend,
		clock:   clk,
		labels:  lru.NewCache[string, cachedLabel](cfg.CacheSize),
	}, nil
}

func openDB(cfg *Config) (*sql.DB, error) {
	var (
		driver string
		dsn    string
	)
	switch cfg.Backend {
	case BackendTypeSqlite:
		driver = "sqlite"
		path := cfg.DBPath
		if cfg.UseMemory {
			path = memoryPath
		}
		dsn = fmt.Sprintf("file:%s?%s", path, sqliteOptions)

	case BackendTypePostgres:
		driver = "pgx"
		dsn = cfg.PostgresDSN
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open %v database: %w",
			cfg.Backend, err)
	}

	// Every connection to an in-memory database would see its own
	// empty database.
	if cfg.Backend == BackendTypeSqlite {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to reach %v database: %w",
			cfg.Backend, err)
	}

	return db, nil
}

// Close closes the database.
func (a *AddressBook) Close() error {
	return a.db.Close()
}

// Label returns the label of address, or an empty string if it has none.
func (a *AddressBook) Label(ctx context.Context,
	address string) (string, error) {

	address = strings.TrimSpace(address)
	if address == "" {
		return "", ErrEmptyAddress
	}

	label, err := a.labels.Get(address)
	switch {
	case err == nil:
		return string(label), nil

	case !errors.Is(err, cache.ErrElementNotFound):
		return "", err
	}

	var stored string
	err = a.db.QueryRowContext(ctx,
		"SELECT label FROM address_labels WHERE address = $1", address,
	).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stored = ""

	case err != nil:
		return "", fmt.Errorf("unable to look up label: %w", err)
	}

	if _, err := a.labels.Put(address, cachedLabel(stored)); err != nil {
		log.Warnf("Unable to cache label of %s: %v", address, err)
	}

	return stored, nil
}

// AddLabel labels address. An address has at most one label.
func (a *AddressBook) AddLabel(ctx context.Context, address,
	label string) error {

	address = strings.TrimSpace(address)
	if address == "" {
		return ErrEmptyAddress
	}

	_, err := a.db.ExecContext(ctx,
		"INSERT INTO address_labels (address, label, created_at) "+
			"VALUES ($1, $2, $3)",
		address, label, a.clock.Now().Unix(),
	)
	if err != nil {
		err = mapSQLError(err)

		var uniqueErr *UniqueConstraintError
		if errors.As(err, &uniqueErr) {
			return fmt.Errorf("%w: %s", ErrLabelExists, address)
		}

		return fmt.Errorf("unable to add label: %w", err)
	}

	a.labels.Delete(address)
	log.Debugf("Labelled %s as %q", address, label)

	return nil
}

// DeleteLabel removes the label of address.
func (a *AddressBook) DeleteLabel(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)

	res, err := a.db.ExecContext(ctx,
		"DELETE FROM address_labels WHERE address = $1", address,
	)
	if err != nil {
		return fmt.Errorf("unable to delete label: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLabelNotFound
	}

	a.labels.Delete(address)

	return nil
}

// Labels returns all labels, ordered by address.
func (a *AddressBook) Labels(ctx context.Context) ([]AddressLabel, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT address, label, created_at FROM address_labels "+
			"ORDER BY address",
	)
	if err != nil {
		return nil, fmt.Errorf("unable to list labels: %w", err)
	}
	defer rows.Close()

	var labels []AddressLabel
	for rows.Next() {
		var l AddressLabel
		err := rows.Scan(&l.Address, &l.Label, &l.CreatedAt)
		if err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}

	return labels, rows.Err()
}
