package db

import (
	"errors"
	"fmt"
)

// BackendType is the type of database backend.
type BackendType uint8

const (
	// BackendTypeSqlite is an embedded sqlite database.
	BackendTypeSqlite BackendType = iota

	// BackendTypePostgres is a postgres server.
	BackendTypePostgres
)

// String returns the name of the backend.
func (b BackendType) String() string {
	switch b {
	case BackendTypeSqlite:
		return "sqlite"
	case BackendTypePostgres:
		return "postgres"
	default:
		return fmt.Sprintf("BackendType(%d)", uint8(b))
	}
}

const (
	// DefaultCacheSize is the number of labels kept in memory.
	DefaultCacheSize = 1000

	// memoryPath opens a private in-memory sqlite database.
	memoryPath = ":memory:"
)

// ErrInvalidConfig is returned when configuration is invalid.
var ErrInvalidConfig = errors.New("invalid database configuration")

// Config holds configuration for database initialization.
type Config struct {
	// Backend is the database backend.
	Backend BackendType

	// DBPath is the path of the sqlite database file.
	DBPath string

	// UseMemory uses an in-memory sqlite database.
	UseMemory bool

	// PostgresDSN is the connection string of the postgres server.
	PostgresDSN string

	// SkipMigrations skips running migrations, for databases that
	// already carry the schema.
	SkipMigrations bool

	// CacheSize is the number of labels kept in memory.
	CacheSize uint64
}

// DefaultConfig returns a default sqlite configuration at dbPath.
func DefaultConfig(dbPath string) *Config {
	return &Config{
		Backend:   BackendTypeSqlite,
		DBPath:    dbPath,
		CacheSize: DefaultCacheSize,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendTypeSqlite:
		if c.DBPath == "" && !c.UseMemory {
			return fmt.Errorf("%w: database path required",
				ErrInvalidConfig)
		}

	case BackendTypePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres dsn required",
				ErrInvalidConfig)
		}

	default:
		return fmt.Errorf("%w: unsupported backend %v",
			ErrInvalidConfig, c.Backend)
	}

	if c.CacheSize == 0 {
		return fmt.Errorf("%w: cache size must be positive",
			ErrInvalidConfig)
	}

	return nil
}
