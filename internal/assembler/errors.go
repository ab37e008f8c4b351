package assembler

import (
	"errors"
	"fmt"
)

// ErrorKind classifies assembly failures.
type ErrorKind string

const (
	KindSizeExceeded   ErrorKind = "size_exceeded"
	KindStaleBlockhash ErrorKind = "stale_blockhash"
)

var (
	ErrSizeExceeded   = errors.New("transaction size exceeded")
	ErrStaleBlockhash = errors.New("stale blockhash")
)

// AssemblyError aborts one replica before submission.
type AssemblyError struct {
	Kind   ErrorKind
	Reason string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *AssemblyError) Unwrap() error {
	switch e.Kind {
	case KindSizeExceeded:
		return ErrSizeExceeded
	case KindStaleBlockhash:
		return ErrStaleBlockhash
	}
	return nil
}
