package domain

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Venue tags the exchange mechanism that produced a swap.
type Venue string

const (
	VenuePumpFun   Venue = "pumpfun"    // bonding-curve issuance
	VenueRaydiumV4 Venue = "raydium_v4" // constant-product pool AMM
)

// Direction of a swap relative to the traded mint.
type Direction int

const (
	Buy Direction = iota + 1
	Sell
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// SwapEvent is a normalized swap signed by the target wallet.
// Exactly one event exists per matched swap instruction.
type SwapEvent struct {
	Venue     Venue
	Direction Direction
	Mint      solana.PublicKey

	// InputAmount is what the target spent: lamports for buys, token base
	// units for sells. For bonding-curve buys it is the max SOL cost.
	InputAmount uint64
	// OutputAmount is the exact or minimum amount the target asked for,
	// nil when the layout does not carry one.
	OutputAmount *uint64

	// PoolAccounts is the target instruction's account list with signer and
	// writable flags. Adapters replace the user-specific positions and keep
	// the rest.
	PoolAccounts solana.AccountMetaSlice

	Signature        solana.Signature
	Slot             uint64
	InstructionIndex int
}

// InputMint returns the mint spent by the swap. SOL is reported as the
// wrapped SOL mint.
func (e *SwapEvent) InputMint() solana.PublicKey {
	if e.Direction == Buy {
		return WrappedSOL
	}
	return e.Mint
}

// OutputMint returns the mint received by the swap.
func (e *SwapEvent) OutputMint() solana.PublicKey {
	if e.Direction == Buy {
		return e.Mint
	}
	return WrappedSOL
}

// WrappedSOL is the native mint. Balance snapshots key lamports under it.
var WrappedSOL = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
