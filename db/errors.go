package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrLabelExists is returned when an address already has a label.
	ErrLabelExists = errors.New("address already labelled")

	// ErrLabelNotFound is returned when deleting a missing label.
	ErrLabelNotFound = errors.New("address label not found")

	// ErrEmptyAddress is returned for an empty address.
	ErrEmptyAddress = errors.New("address must not be empty")
)

// UniqueConstraintError is returned when an insert violates a unique
// constraint.
type UniqueConstraintError struct {
	DBError error
}

// Error implements the error interface.
func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("unique constraint violation: %v", e.DBError)
}

// Unwrap returns the database error.
func (e *UniqueConstraintError) Unwrap() error {
	return e.DBError
}

// mapSQLError translates a driver error into an error of this package.
// Errors it does not know are returned unchanged.
func mapSQLError(err error) error {
	var (
		sqliteErr *sqlite.Error
		pgErr     *pgconn.PgError
		pqErr     *pq.Error
	)
	switch {
	case errors.As(err, &sqliteErr):
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			sqlite3.SQLITE_CONSTRAINT_UNIQUE:

			return &UniqueConstraintError{DBError: err}
		}

	case errors.As(err, &pgErr):
		if pgErr.Code == pgerrcode.UniqueViolation {
			return &UniqueConstraintError{DBError: err}
		}

	case errors.As(err, &pqErr):
		if string(pqErr.Code) == pgerrcode.UniqueViolation {
			return &UniqueConstraintError{DBError: err}
		}
	}

	return err
}
