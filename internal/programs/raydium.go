package programs

import (
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Raydium AMM v4.
var (
	RaydiumV4ProgramID = solana.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")
	RaydiumV4Authority = solana.MustPublicKeyFromBase58("5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1")
)

// Swap instruction tags.
const (
	RaydiumSwapBaseIn  uint8 = 9
	RaydiumSwapBaseOut uint8 = 11
)

// RaydiumSwapArgs is swap instruction data. For SwapBaseIn the amounts are
// (amount_in, minimum_amount_out); for SwapBaseOut (max_amount_in, amount_out).
type RaydiumSwapArgs struct {
	Instruction uint8
	AmountA     uint64
	AmountB     uint64
}

// RaydiumSwapArgsSize is the encoded size of RaydiumSwapArgs.
const RaydiumSwapArgsSize = 17

// DecodeRaydiumSwapArgs decodes swap instruction data.
func DecodeRaydiumSwapArgs(data []byte) (*RaydiumSwapArgs, error) {
	if len(data) != RaydiumSwapArgsSize {
		return nil, fmt.Errorf("raydium swap args: want %d bytes, got %d", RaydiumSwapArgsSize, len(data))
	}
	var args RaydiumSwapArgs
	if err := bin.NewBorshDecoder(data).Decode(&args); err != nil {
		return nil, fmt.Errorf("raydium swap args: %w", err)
	}
	if args.Instruction != RaydiumSwapBaseIn && args.Instruction != RaydiumSwapBaseOut {
		return nil, fmt.Errorf("raydium swap args: unexpected instruction tag %d", args.Instruction)
	}
	return &args, nil
}

// Encode returns the instruction data.
func (a RaydiumSwapArgs) Encode() []byte {
	data := make([]byte, RaydiumSwapArgsSize)
	data[0] = a.Instruction
	binary.LittleEndian.PutUint64(data[1:9], a.AmountA)
	binary.LittleEndian.PutUint64(data[9:17], a.AmountB)
	return data
}

// RaydiumSwapLayout locates accounts in a swap instruction. Swaps come in
// an 18-account form and a 17-account form without target orders.
type RaydiumSwapLayout struct {
	AmmID       int
	CoinVault   int
	PcVault     int
	UserSource  int
	UserDest    int
	UserOwner   int
	NumAccounts int
}

// RaydiumLayoutFor returns the layout for an account count.
func RaydiumLayoutFor(numAccounts int) (RaydiumSwapLayout, bool) {
	switch numAccounts {
	case 18:
		return RaydiumSwapLayout{AmmID: 1, CoinVault: 5, PcVault: 6, UserSource: 15, UserDest: 16, UserOwner: 17, NumAccounts: 18}, true
	case 17:
		return RaydiumSwapLayout{AmmID: 1, CoinVault: 4, PcVault: 5, UserSource: 14, UserDest: 15, UserOwner: 16, NumAccounts: 17}, true
	default:
		return RaydiumSwapLayout{}, false
	}
}

// RaydiumAmmInfo is the AMM v4 pool state (752 bytes).
type RaydiumAmmInfo struct {
	Status             uint64
	Nonce              uint64
	MaxOrder           uint64
	Depth              uint64
	BaseDecimal        uint64
	QuoteDecimal       uint64
	State              uint64
	ResetFlag          uint64
	MinSize            uint64
	VolMaxCutRatio     uint64
	AmountWaveRatio    uint64
	BaseLotSize        uint64
	QuoteLotSize       uint64
	MinPriceMultiplier uint64
	MaxPriceMultiplier uint64
	SystemDecimalValue uint64
	MinSeparateNum     uint64
	MinSeparateDen     uint64
	TradeFeeNumerator  uint64
	TradeFeeDenom      uint64
	PnlNumerator       uint64
	PnlDenominator     uint64
	SwapFeeNumerator   uint64
	SwapFeeDenominator uint64
	BaseNeedTakePnl    uint64
	QuoteNeedTakePnl   uint64
	QuoteTotalPnl      uint64
	BaseTotalPnl       uint64
	PoolOpenTime       uint64
	PunishPcAmount     uint64
	PunishCoinAmount   uint64
	OrderbookToInitAt  uint64

	SwapBaseInAmount   bin.Uint128
	SwapQuoteOutAmount bin.Uint128
	SwapBase2QuoteFee  uint64
	SwapQuoteInAmount  bin.Uint128
	SwapBaseOutAmount  bin.Uint128
	SwapQuote2BaseFee  uint64

	BaseVault       solana.PublicKey
	QuoteVault      solana.PublicKey
	BaseMint        solana.PublicKey
	QuoteMint       solana.PublicKey
	LpMint          solana.PublicKey
	OpenOrders      solana.PublicKey
	MarketID        solana.PublicKey
	MarketProgramID solana.PublicKey
	TargetOrders    solana.PublicKey
	WithdrawQueue   solana.PublicKey
	LpVault         solana.PublicKey
	Owner           solana.PublicKey
	LpReserve       uint64
	Padding         [3]uint64
}

// RaydiumAmmInfoSize is the encoded size of RaydiumAmmInfo.
const RaydiumAmmInfoSize = 752

// DecodeRaydiumAmmInfo decodes pool state.
func DecodeRaydiumAmmInfo(data []byte) (*RaydiumAmmInfo, error) {
	if len(data) < RaydiumAmmInfoSize {
		return nil, fmt.Errorf("raydium amm: want %d bytes, got %d", RaydiumAmmInfoSize, len(data))
	}
	var info RaydiumAmmInfo
	if err := bin.NewBorshDecoder(data[:RaydiumAmmInfoSize]).Decode(&info); err != nil {
		return nil, fmt.Errorf("raydium amm: %w", err)
	}
	return &info, nil
}

// NewRaydiumSwapInstruction builds a swap instruction.
func NewRaydiumSwapInstruction(accounts solana.AccountMetaSlice, args RaydiumSwapArgs) solana.Instruction {
	return solana.NewInstruction(RaydiumV4ProgramID, accounts, args.Encode())
}
