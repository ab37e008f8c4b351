package storage

import "errors"

var (
	// ErrNotFound means no record has the requested key.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicateKey means the key is already journaled. Records are
	// written once and never updated.
	ErrDuplicateKey = errors.New("storage: duplicate key")

	// ErrInvalidInput rejects nil records and empty keys.
	ErrInvalidInput = errors.New("storage: invalid input")
)
