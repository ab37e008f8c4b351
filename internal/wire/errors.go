package wire

import (
	"errors"
	"fmt"
)

// ErrMalformed is matched by every DecodeError.
var ErrMalformed = errors.New("malformed wire data")

// TransactionSlot marks a DecodeError that is not tied to one instruction.
const TransactionSlot = -1

// DecodeError reports malformed wire data for an instruction slot or for
// the transaction envelope.
type DecodeError struct {
	Slot   int
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Slot == TransactionSlot {
		return fmt.Sprintf("malformed transaction: %s", e.Reason)
	}
	return fmt.Sprintf("malformed instruction %d: %s", e.Slot, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrMalformed
}

func malformed(slot int, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Slot: slot, Reason: fmt.Sprintf(format, args...)}
}
