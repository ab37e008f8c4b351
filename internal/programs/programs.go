// Package programs holds on-chain program ids, instruction layouts and
// account layouts for the supported venues.
package programs

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Common program ids.
var (
	ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	TokenProgramID         = solana.TokenProgramID
	AssociatedTokenID      = solana.SPLAssociatedTokenAccountProgramID
	SystemProgramID        = solana.SystemProgramID
	RentSysvarID           = solana.SysVarRentPubkey
)

// TokenAccount is the prefix of an SPL token account.
type TokenAccount struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

// TokenAccountSize is the size of an initialized SPL token account.
const TokenAccountSize = 165

// DecodeTokenAccount decodes an SPL token account.
func DecodeTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) < TokenAccountSize {
		return nil, fmt.Errorf("token account: want %d bytes, got %d", TokenAccountSize, len(data))
	}
	var acc TokenAccount
	if err := bin.NewBinDecoder(data).Decode(&acc); err != nil {
		return nil, fmt.Errorf("token account: %w", err)
	}
	return &acc, nil
}
