package stub

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/programs"
	"solana-copy-trader/internal/wire"
)

// TokenAccount describes a token account touched by a built transaction.
type TokenAccount struct {
	Address solana.PublicKey
	Mint    solana.PublicKey
	Owner   solana.PublicKey
}

// BuildUpdate signs a legacy transaction with the given instructions and
// wraps it as a RawUpdate. signer pays and signs.
func BuildUpdate(signer solana.PrivateKey, slot uint64, ixs []solana.Instruction, tokens ...TokenAccount) (*wire.RawUpdate, error) {
	tx, err := solana.NewTransaction(ixs, solana.Hash{1}, solana.TransactionPayer(signer.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signer.PublicKey()) {
			return &signer
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	data, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}

	update := &wire.RawUpdate{
		Data:      data,
		Slot:      slot,
		Sender:    signer.PublicKey(),
		Signature: tx.Signatures[0].String(),
	}
	for _, ta := range tokens {
		for i, key := range tx.Message.AccountKeys {
			if key.Equals(ta.Address) {
				update.TokenBalances = append(update.TokenBalances, wire.TokenBalance{AccountIndex: i, Mint: ta.Mint, Owner: ta.Owner})
				break
			}
		}
	}
	return update, nil
}

// PumpFunTrade returns a pump.fun buy or sell signed by user.
// For buys amount is tokens and limit is max SOL cost; for sells amount is
// tokens and limit is min SOL output.
func PumpFunTrade(user, mint solana.PublicKey, direction domain.Direction, amount, limit uint64) (solana.Instruction, error) {
	accounts, err := programs.PumpFunTradeAccounts(mint, user, direction == domain.Sell)
	if err != nil {
		return nil, err
	}
	disc := programs.PumpFunBuyDiscriminator
	if direction == domain.Sell {
		disc = programs.PumpFunSellDiscriminator
	}
	return programs.NewPumpFunTradeInstruction(accounts, programs.PumpFunTradeArgs{
		Discriminator: disc,
		Amount:        amount,
		SolLimit:      limit,
	}), nil
}

// RaydiumPool holds the pool-side accounts of an AMM v4 swap.
type RaydiumPool struct {
	AmmID        solana.PublicKey
	OpenOrders   solana.PublicKey
	TargetOrders solana.PublicKey
	CoinVault    solana.PublicKey
	PcVault      solana.PublicKey
	Market       solana.PublicKey
}

// NewRaydiumPool returns a pool with random accounts.
func NewRaydiumPool() RaydiumPool {
	return RaydiumPool{
		AmmID:        solana.NewWallet().PublicKey(),
		OpenOrders:   solana.NewWallet().PublicKey(),
		TargetOrders: solana.NewWallet().PublicKey(),
		CoinVault:    solana.NewWallet().PublicKey(),
		PcVault:      solana.NewWallet().PublicKey(),
		Market:       solana.NewWallet().PublicKey(),
	}
}

// RaydiumSwap returns an 18-account swap-base-in instruction signed by owner.
func RaydiumSwap(pool RaydiumPool, owner, source, dest solana.PublicKey, amountIn, minOut uint64) solana.Instruction {
	serum := solana.NewWallet().PublicKey()
	accounts := solana.AccountMetaSlice{
		solana.Meta(programs.TokenProgramID),
		solana.Meta(pool.AmmID).WRITE(),
		solana.Meta(programs.RaydiumV4Authority),
		solana.Meta(pool.OpenOrders).WRITE(),
		solana.Meta(pool.TargetOrders).WRITE(),
		solana.Meta(pool.CoinVault).WRITE(),
		solana.Meta(pool.PcVault).WRITE(),
		solana.Meta(serum),
		solana.Meta(pool.Market).WRITE(),
		solana.Meta(solana.NewWallet().PublicKey()).WRITE(),
		solana.Meta(solana.NewWallet().PublicKey()).WRITE(),
		solana.Meta(solana.NewWallet().PublicKey()).WRITE(),
		solana.Meta(solana.NewWallet().PublicKey()).WRITE(),
		solana.Meta(solana.NewWallet().PublicKey()).WRITE(),
		solana.Meta(solana.NewWallet().PublicKey()),
		solana.Meta(source).WRITE(),
		solana.Meta(dest).WRITE(),
		solana.Meta(owner).SIGNER(),
	}
	return programs.NewRaydiumSwapInstruction(accounts, programs.RaydiumSwapArgs{
		Instruction: programs.RaydiumSwapBaseIn,
		AmountA:     amountIn,
		AmountB:     minOut,
	})
}
