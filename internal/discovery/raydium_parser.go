package discovery

import (
	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/programs"
	"solana-copy-trader/internal/wire"
)

// RaydiumParser parses Raydium AMM v4 swap instructions. Direction and mint
// come from the token accounts the transaction touched.
type RaydiumParser struct{}

// NewRaydiumParser creates a new RaydiumParser.
func NewRaydiumParser() *RaydiumParser {
	return &RaydiumParser{}
}

func (p *RaydiumParser) Venue() domain.Venue {
	return domain.VenueRaydiumV4
}

func (p *RaydiumParser) SignerPosition(ix *wire.DecodedInstruction) (int, bool) {
	layout, ok := programs.RaydiumLayoutFor(len(ix.Accounts))
	if !ok {
		return 0, false
	}
	return layout.UserOwner, true
}

func (p *RaydiumParser) Parse(tx *wire.DecodedTransaction, ix *wire.DecodedInstruction) (*domain.SwapEvent, error) {
	if len(ix.Data) == 0 {
		return nil, mismatch(ix, p.Venue(), "empty data")
	}
	if tag := ix.Data[0]; tag != programs.RaydiumSwapBaseIn && tag != programs.RaydiumSwapBaseOut {
		return nil, ErrNotSwap
	}
	args, err := programs.DecodeRaydiumSwapArgs(ix.Data)
	if err != nil {
		return nil, mismatch(ix, p.Venue(), "%v", err)
	}

	layout, ok := programs.RaydiumLayoutFor(len(ix.Accounts))
	if !ok {
		return nil, mismatch(ix, p.Venue(), "unexpected account count %d", len(ix.Accounts))
	}

	src, okSrc := tx.TokenAccount(ix.Accounts[layout.UserSource])
	dst, okDst := tx.TokenAccount(ix.Accounts[layout.UserDest])
	if !okSrc || !okDst {
		return nil, mismatch(ix, p.Venue(), "token account mints unavailable")
	}

	event := &domain.SwapEvent{
		Venue:            p.Venue(),
		PoolAccounts:     ix.Metas(),
		Signature:        ix.Signature,
		InstructionIndex: ix.Index,
		InputAmount:      args.AmountA,
	}
	out := args.AmountB
	event.OutputAmount = &out

	switch {
	case src.Mint.Equals(domain.WrappedSOL) && !dst.Mint.Equals(domain.WrappedSOL):
		event.Direction = domain.Buy
		event.Mint = dst.Mint
	case dst.Mint.Equals(domain.WrappedSOL) && !src.Mint.Equals(domain.WrappedSOL):
		event.Direction = domain.Sell
		event.Mint = src.Mint
	default:
		return nil, mismatch(ix, p.Venue(), "pool has no SOL side (%s -> %s)", src.Mint, dst.Mint)
	}
	return event, nil
}
