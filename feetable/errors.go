package feetable

import "errors"

var (
	// ErrUnknownCategory is returned when parsing an unknown category.
	ErrUnknownCategory = errors.New("unknown fee category")

	// ErrIncompleteTable is returned for a fee table that does not carry
	// a usable rate for every category.
	ErrIncompleteTable = errors.New("incomplete fee table")

	// ErrNoSource is returned when a refresher has no rate source.
	ErrNoSource = errors.New("no fee rate source configured")
)
