package discovery

import (
	"bytes"
	"encoding/binary"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/programs"
	"solana-copy-trader/internal/wire"
)

// pumpFunCreateDiscriminator tags token creation, which is not a swap.
var pumpFunCreateDiscriminator = []byte{24, 30, 200, 40, 5, 28, 7, 119}

// PumpFunParser parses pump.fun bonding-curve buy and sell instructions.
type PumpFunParser struct{}

// NewPumpFunParser creates a new PumpFunParser.
func NewPumpFunParser() *PumpFunParser {
	return &PumpFunParser{}
}

func (p *PumpFunParser) Venue() domain.Venue {
	return domain.VenuePumpFun
}

func (p *PumpFunParser) SignerPosition(ix *wire.DecodedInstruction) (int, bool) {
	if len(ix.Accounts) < programs.PumpFunMinAccounts {
		return 0, false
	}
	return programs.PumpFunAccUser, true
}

func (p *PumpFunParser) Parse(_ *wire.DecodedTransaction, ix *wire.DecodedInstruction) (*domain.SwapEvent, error) {
	if len(ix.Data) < 8 {
		return nil, mismatch(ix, p.Venue(), "data too short for discriminator (%d bytes)", len(ix.Data))
	}
	if bytes.Equal(ix.Data[:8], pumpFunCreateDiscriminator) {
		return nil, ErrNotSwap
	}

	var direction domain.Direction
	switch binary.LittleEndian.Uint64(ix.Data[:8]) {
	case programs.PumpFunBuyDiscriminator:
		direction = domain.Buy
	case programs.PumpFunSellDiscriminator:
		direction = domain.Sell
	default:
		return nil, mismatch(ix, p.Venue(), "unknown discriminator %x", ix.Data[:8])
	}

	args, err := programs.DecodePumpFunTradeArgs(ix.Data)
	if err != nil {
		return nil, mismatch(ix, p.Venue(), "%v", err)
	}

	mint := ix.Accounts[programs.PumpFunAccMint]
	curve, err := programs.BondingCurvePDA(mint)
	if err != nil {
		return nil, mismatch(ix, p.Venue(), "%v", err)
	}
	if !curve.Equals(ix.Accounts[programs.PumpFunAccBondingCurve]) {
		return nil, mismatch(ix, p.Venue(), "bonding curve account does not match mint %s", mint)
	}

	event := &domain.SwapEvent{
		Venue:            p.Venue(),
		Direction:        direction,
		Mint:             mint,
		PoolAccounts:     ix.Metas(),
		Signature:        ix.Signature,
		InstructionIndex: ix.Index,
	}
	if direction == domain.Buy {
		tokens := args.Amount
		event.InputAmount = args.SolLimit
		event.OutputAmount = &tokens
	} else {
		minSol := args.SolLimit
		event.InputAmount = args.Amount
		event.OutputAmount = &minSol
	}
	return event, nil
}
