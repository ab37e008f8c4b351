package programs

import (
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// pump.fun bonding-curve program.
var (
	PumpFunProgramID      = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	PumpFunGlobal         = solana.MustPublicKeyFromBase58("4wTV1YmiEkRvAtNtsSGPtUrqRYQMe5SKy2uB4Jjaxnjf")
	PumpFunFeeRecipient   = solana.MustPublicKeyFromBase58("CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM")
	PumpFunEventAuthority = solana.MustPublicKeyFromBase58("Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1")
)

// Instruction discriminators (first 8 bytes, little endian).
const (
	PumpFunBuyDiscriminator  uint64 = 16927863322537952870
	PumpFunSellDiscriminator uint64 = 12502976635542562355
)

// Account positions shared by buy and sell.
const (
	PumpFunAccGlobal                 = 0
	PumpFunAccFeeRecipient           = 1
	PumpFunAccMint                   = 2
	PumpFunAccBondingCurve           = 3
	PumpFunAccAssociatedBondingCurve = 4
	PumpFunAccAssociatedUser         = 5
	PumpFunAccUser                   = 6

	PumpFunMinAccounts = 7
)

// PumpFunFeeBasisPoints is the protocol fee charged on the SOL leg.
const PumpFunFeeBasisPoints = 100

// PumpFunTradeArgs is the fixed prefix of buy and sell instruction data.
// For buys SolLimit is max_sol_cost; for sells it is min_sol_output.
type PumpFunTradeArgs struct {
	Discriminator uint64
	Amount        uint64
	SolLimit      uint64
}

// PumpFunTradeArgsSize is the encoded size of PumpFunTradeArgs.
const PumpFunTradeArgsSize = 24

// DecodePumpFunTradeArgs decodes instruction data. Trailing bytes are
// ignored so newer optional arguments do not break parsing.
func DecodePumpFunTradeArgs(data []byte) (*PumpFunTradeArgs, error) {
	if len(data) < PumpFunTradeArgsSize {
		return nil, fmt.Errorf("pumpfun args: want %d bytes, got %d", PumpFunTradeArgsSize, len(data))
	}
	var args PumpFunTradeArgs
	if err := bin.NewBorshDecoder(data[:PumpFunTradeArgsSize]).Decode(&args); err != nil {
		return nil, fmt.Errorf("pumpfun args: %w", err)
	}
	return &args, nil
}

// Encode returns the instruction data.
func (a PumpFunTradeArgs) Encode() []byte {
	data := make([]byte, PumpFunTradeArgsSize)
	binary.LittleEndian.PutUint64(data[0:8], a.Discriminator)
	binary.LittleEndian.PutUint64(data[8:16], a.Amount)
	binary.LittleEndian.PutUint64(data[16:24], a.SolLimit)
	return data
}

// BondingCurveAccount is the on-chain bonding curve state.
type BondingCurveAccount struct {
	Discriminator        uint64
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// BondingCurveAccountSize is the encoded size of BondingCurveAccount.
const BondingCurveAccountSize = 49

// DecodeBondingCurve decodes bonding curve account data.
func DecodeBondingCurve(data []byte) (*BondingCurveAccount, error) {
	if len(data) < BondingCurveAccountSize {
		return nil, fmt.Errorf("bonding curve: want %d bytes, got %d", BondingCurveAccountSize, len(data))
	}
	var acc BondingCurveAccount
	if err := bin.NewBorshDecoder(data).Decode(&acc); err != nil {
		return nil, fmt.Errorf("bonding curve: %w", err)
	}
	return &acc, nil
}

// BondingCurvePDA derives the bonding curve address for a mint.
func BondingCurvePDA(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("bonding-curve"), mint.Bytes()}, PumpFunProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive bonding curve: %w", err)
	}
	return addr, nil
}

// NewPumpFunTradeInstruction builds a buy or sell instruction.
func NewPumpFunTradeInstruction(accounts solana.AccountMetaSlice, args PumpFunTradeArgs) solana.Instruction {
	return solana.NewInstruction(PumpFunProgramID, accounts, args.Encode())
}

// PumpFunTradeAccounts returns the canonical account list of a buy or sell
// signed by user.
func PumpFunTradeAccounts(mint, user solana.PublicKey, sell bool) (solana.AccountMetaSlice, error) {
	curve, err := BondingCurvePDA(mint)
	if err != nil {
		return nil, err
	}
	curveATA, _, err := solana.FindAssociatedTokenAddress(curve, mint)
	if err != nil {
		return nil, fmt.Errorf("derive curve token account: %w", err)
	}
	userATA, _, err := solana.FindAssociatedTokenAddress(user, mint)
	if err != nil {
		return nil, fmt.Errorf("derive user token account: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(PumpFunGlobal),
		solana.Meta(PumpFunFeeRecipient).WRITE(),
		solana.Meta(mint),
		solana.Meta(curve).WRITE(),
		solana.Meta(curveATA).WRITE(),
		solana.Meta(userATA).WRITE(),
		solana.Meta(user).WRITE().SIGNER(),
		solana.Meta(SystemProgramID),
	}
	if sell {
		accounts = append(accounts, solana.Meta(AssociatedTokenID), solana.Meta(TokenProgramID))
	} else {
		accounts = append(accounts, solana.Meta(TokenProgramID), solana.Meta(RentSysvarID))
	}
	return append(accounts, solana.Meta(PumpFunEventAuthority), solana.Meta(PumpFunProgramID)), nil
}
