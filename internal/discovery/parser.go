package discovery

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/wire"
)

// InstructionParser decodes one venue's swap instructions.
type InstructionParser interface {
	// Venue returns the tag carried by produced events.
	Venue() domain.Venue

	// SignerPosition returns the account position of the trading wallet
	// for this instruction's layout. ok is false for unknown layouts.
	SignerPosition(ix *wire.DecodedInstruction) (pos int, ok bool)

	// Parse decodes the instruction data into a SwapEvent. It returns
	// ErrNotSwap for recognized non-swap instructions.
	Parse(tx *wire.DecodedTransaction, ix *wire.DecodedInstruction) (*domain.SwapEvent, error)
}

// ErrNotSwap marks a recognized instruction that is not a swap.
var ErrNotSwap = errors.New("not a swap instruction")

// ErrSchemaMismatch is matched by every SchemaMismatchError.
var ErrSchemaMismatch = errors.New("schema mismatch")

// SchemaMismatchError reports a registered program whose instruction data
// does not match the known layout.
type SchemaMismatchError struct {
	Program solana.PublicKey
	Venue   domain.Venue
	Slot    int
	Reason  string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: %s instruction %d: %s", e.Venue, e.Slot, e.Reason)
}

func (e *SchemaMismatchError) Unwrap() error {
	return ErrSchemaMismatch
}

func mismatch(ix *wire.DecodedInstruction, venue domain.Venue, format string, args ...interface{}) error {
	return &SchemaMismatchError{
		Program: ix.ProgramID,
		Venue:   venue,
		Slot:    ix.Index,
		Reason:  fmt.Sprintf(format, args...),
	}
}
