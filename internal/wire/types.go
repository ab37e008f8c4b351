// Package wire decodes raw transaction payloads from the stream into
// instruction records.
package wire

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// RawUpdate is one streamed transaction payload. It is consumed once.
type RawUpdate struct {
	// Data is the serialized transaction, legacy or v0.
	Data []byte
	Slot uint64
	// Sender is the watched account the subscription matched.
	Sender solana.PublicKey
	// Signature is the notification's signature, when the feed provides one.
	Signature string

	// LoadedWritable and LoadedReadonly are addresses resolved from
	// lookup tables for v0 transactions.
	LoadedWritable []solana.PublicKey
	LoadedReadonly []solana.PublicKey
	// TokenBalances lists token accounts touched by the transaction.
	TokenBalances []TokenBalance

	ReceivedAt time.Time
}

// TokenBalance identifies a token account touched by a transaction.
type TokenBalance struct {
	AccountIndex int
	Mint         solana.PublicKey
	Owner        solana.PublicKey
}

// DecodedInstruction is a compiled instruction with resolved accounts.
// Data aliases the update buffer and must not be modified.
type DecodedInstruction struct {
	ProgramID solana.PublicKey
	Accounts  []solana.PublicKey
	Data      []byte
	Signature solana.Signature
	Index     int

	signers  uint64
	writable uint64
}

// IsSigner reports whether the account at pos signed the transaction.
func (ix *DecodedInstruction) IsSigner(pos int) bool {
	if pos < 0 || pos >= 64 || pos >= len(ix.Accounts) {
		return false
	}
	return ix.signers&(1<<uint(pos)) != 0
}

// IsWritable reports whether the account at pos is writable.
func (ix *DecodedInstruction) IsWritable(pos int) bool {
	if pos < 0 || pos >= 64 || pos >= len(ix.Accounts) {
		return false
	}
	return ix.writable&(1<<uint(pos)) != 0
}

// Metas returns the instruction's accounts with signer and writable flags.
func (ix *DecodedInstruction) Metas() solana.AccountMetaSlice {
	out := make(solana.AccountMetaSlice, len(ix.Accounts))
	for i, key := range ix.Accounts {
		out[i] = &solana.AccountMeta{PublicKey: key, IsSigner: ix.IsSigner(i), IsWritable: ix.IsWritable(i)}
	}
	return out
}

// DecodedTransaction is the decoder's output for one update.
type DecodedTransaction struct {
	Signature    solana.Signature
	Slot         uint64
	AccountKeys  []solana.PublicKey
	NumSigners   int
	Instructions []DecodedInstruction
	// Faults lists instruction slots that failed to decode. Siblings in
	// Instructions are unaffected.
	Faults []*DecodeError

	tokenAccounts map[solana.PublicKey]TokenBalance
}

// TokenAccount returns the mint and owner of a token account touched by the
// transaction.
func (t *DecodedTransaction) TokenAccount(key solana.PublicKey) (TokenBalance, bool) {
	tb, ok := t.tokenAccounts[key]
	return tb, ok
}
