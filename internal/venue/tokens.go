package venue

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"solana-copy-trader/internal/domain"
)

// createIdempotentTag selects CreateIdempotent in the associated token
// account program, which succeeds when the account already exists.
const createIdempotentTag byte = 1

// createATAIdempotent returns an instruction creating owner's token account
// for mint, paid by owner.
func createATAIdempotent(owner, mint solana.PublicKey) (solana.Instruction, error) {
	ix := associatedtokenaccount.NewCreateInstruction(owner, owner, mint).Build()
	accounts := ix.Accounts()
	if len(accounts) == 0 {
		return nil, fmt.Errorf("create token account for %s: no accounts", mint)
	}
	return solana.NewInstruction(ix.ProgramID(), accounts, []byte{createIdempotentTag}), nil
}

// wrapSOL funds owner's wrapped SOL account with lamports and syncs it.
func wrapSOL(owner, wsolAccount solana.PublicKey, lamports uint64) ([]solana.Instruction, error) {
	transfer, err := system.NewTransferInstruction(lamports, owner, wsolAccount).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("wrap sol transfer: %w", err)
	}
	sync, err := token.NewSyncNativeInstruction(wsolAccount).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("wrap sol sync: %w", err)
	}
	return []solana.Instruction{transfer, sync}, nil
}

// unwrapSOL closes owner's wrapped SOL account back into owner.
func unwrapSOL(owner, wsolAccount solana.PublicKey) (solana.Instruction, error) {
	ix, err := token.NewCloseAccountInstruction(wsolAccount, owner, owner, nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("unwrap sol: %w", err)
	}
	return ix, nil
}

// tokenAccountOf returns owner's associated token account for mint.
func tokenAccountOf(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive token account of %s for %s: %w", owner, mint, err)
	}
	return ata, nil
}

// wsolAccountOf returns owner's wrapped SOL associated token account.
func wsolAccountOf(owner solana.PublicKey) (solana.PublicKey, error) {
	return tokenAccountOf(owner, domain.WrappedSOL)
}

// replaceMeta points position pos at key, keeping its flags.
func replaceMeta(metas solana.AccountMetaSlice, pos int, key solana.PublicKey) {
	m := *metas[pos]
	m.PublicKey = key
	metas[pos] = &m
}

// copyMetas returns an independent copy of metas.
func copyMetas(metas solana.AccountMetaSlice) solana.AccountMetaSlice {
	out := make(solana.AccountMetaSlice, len(metas))
	for i, m := range metas {
		c := *m
		out[i] = &c
	}
	return out
}
