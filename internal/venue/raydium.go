package venue

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"solana-copy-trader/internal/balance"
	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/programs"
)

// AMM v4 pool statuses that accept swaps.
var raydiumSwapStatuses = map[uint64]bool{
	1: true, // initialized
	6: true, // swap only
	7: true, // waiting trade, gated by pool open time on chain
}

// RaydiumAdapter replicates Raydium AMM v4 swaps against SOL pairs. Replicas
// always swap base-in with wrapped SOL opened and closed around the swap.
type RaydiumAdapter struct {
	opts   Options
	logger logrus.FieldLogger
}

// NewRaydiumAdapter creates a pool-AMM adapter.
func NewRaydiumAdapter(opts Options) (*RaydiumAdapter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &RaydiumAdapter{opts: opts, logger: opts.logger(domain.VenueRaydiumV4)}, nil
}

func (a *RaydiumAdapter) Venue() domain.Venue {
	return domain.VenueRaydiumV4
}

// BuildReplica prices the swap from the pool's vault reserves.
func (a *RaydiumAdapter) BuildReplica(ctx context.Context, event *domain.SwapEvent, view balance.View, policy domain.SizingPolicy) (*domain.ReplicaInstructionSet, error) {
	v := a.Venue()
	if event.Venue != v {
		return nil, newError(KindInvalidParams, v, "event venue is %s", event.Venue)
	}
	layout, ok := programs.RaydiumLayoutFor(len(event.PoolAccounts))
	if !ok {
		return nil, newError(KindInvalidParams, v, "unexpected account count %d", len(event.PoolAccounts))
	}

	amount, err := Size(event, view, policy)
	if err != nil {
		return nil, err
	}

	ammKey := event.PoolAccounts[layout.AmmID].PublicKey
	coinKey := event.PoolAccounts[layout.CoinVault].PublicKey
	pcKey := event.PoolAccounts[layout.PcVault].PublicKey
	state, err := a.opts.Freshness.read(ctx, a.opts.Reader, v, event.Slot, ammKey, coinKey, pcKey)
	if err != nil {
		return nil, err
	}
	for i, data := range state.Data {
		if data == nil {
			return nil, newError(KindVenueClosed, v, "pool account %d of %s does not exist", i, ammKey)
		}
	}

	info, err := programs.DecodeRaydiumAmmInfo(state.Data[0])
	if err != nil {
		return nil, newError(KindInvalidParams, v, "%v", err)
	}
	if !raydiumSwapStatuses[info.Status] {
		return nil, newError(KindVenueClosed, v, "pool %s status %d does not accept swaps", ammKey, info.Status)
	}
	if !info.BaseVault.Equals(coinKey) || !info.QuoteVault.Equals(pcKey) {
		return nil, newError(KindInvalidParams, v, "instruction vaults do not match pool %s", ammKey)
	}
	coin, err := programs.DecodeTokenAccount(state.Data[1])
	if err != nil {
		return nil, newError(KindInvalidParams, v, "coin vault: %v", err)
	}
	pc, err := programs.DecodeTokenAccount(state.Data[2])
	if err != nil {
		return nil, newError(KindInvalidParams, v, "pc vault: %v", err)
	}
	coinReserve := saturatingSub(coin.Amount, info.BaseNeedTakePnl)
	pcReserve := saturatingSub(pc.Amount, info.QuoteNeedTakePnl)

	var solReserve, tokenReserve uint64
	switch {
	case info.QuoteMint.Equals(domain.WrappedSOL) && info.BaseMint.Equals(event.Mint):
		solReserve, tokenReserve = pcReserve, coinReserve
	case info.BaseMint.Equals(domain.WrappedSOL) && info.QuoteMint.Equals(event.Mint):
		solReserve, tokenReserve = coinReserve, pcReserve
	default:
		return nil, newError(KindInvalidParams, v, "pool %s is not a SOL pair for %s", ammKey, event.Mint)
	}
	if solReserve == 0 || tokenReserve == 0 {
		return nil, newError(KindVenueClosed, v, "pool %s has no liquidity", ammKey)
	}

	reserveIn, reserveOut := solReserve, tokenReserve
	if event.Direction == domain.Sell {
		reserveIn, reserveOut = tokenReserve, solReserve
	}
	expected, ok := constantProductQuote(reserveIn, reserveOut, amount, info.SwapFeeNumerator, info.SwapFeeDenominator)
	if !ok {
		return nil, newError(KindSlippageExceeded, v, "no quote for %d in", amount)
	}
	bps := a.opts.SlippageBps
	if err := checkRate(v, amount, expected, event.InputAmount, event.OutputAmount, bps); err != nil {
		return nil, err
	}
	minOut, err := MinWithSlippage(expected, bps)
	if err != nil || minOut == 0 {
		return nil, newError(KindSlippageExceeded, v, "output bound for %d in is zero", amount)
	}

	owner := a.opts.Owner
	wsol, err := wsolAccountOf(owner)
	if err != nil {
		return nil, err
	}
	tokenATA, err := tokenAccountOf(owner, event.Mint)
	if err != nil {
		return nil, err
	}

	source, dest := wsol, tokenATA
	if event.Direction == domain.Sell {
		source, dest = tokenATA, wsol
	}
	metas := copyMetas(event.PoolAccounts)
	replaceMeta(metas, layout.UserSource, source)
	replaceMeta(metas, layout.UserDest, dest)
	replaceMeta(metas, layout.UserOwner, owner)

	swap := programs.NewRaydiumSwapInstruction(metas, programs.RaydiumSwapArgs{
		Instruction: programs.RaydiumSwapBaseIn,
		AmountA:     amount,
		AmountB:     minOut,
	})

	ixs, err := a.wrapSwap(event, owner, wsol, amount, swap)
	if err != nil {
		return nil, err
	}

	set := &domain.ReplicaInstructionSet{
		Event:        event,
		Instructions: ixs,
		Amount:       amount,
		ExpectedOut:  expected,
		OutBound:     minOut,
		StateSlot:    state.Slot,
	}
	a.logger.WithFields(logrus.Fields{
		"signature":    event.Signature.String(),
		"mint":         event.Mint.String(),
		"direction":    event.Direction.String(),
		"amount":       set.Amount,
		"expected_out": set.ExpectedOut,
		"state_slot":   set.StateSlot,
	}).Debug("replica built")
	return set, nil
}

// wrapSwap surrounds swap with wrapped SOL setup and teardown.
func (a *RaydiumAdapter) wrapSwap(event *domain.SwapEvent, owner, wsol solana.PublicKey, amount uint64, swap solana.Instruction) ([]solana.Instruction, error) {
	createWSOL, err := createATAIdempotent(owner, domain.WrappedSOL)
	if err != nil {
		return nil, err
	}
	closeWSOL, err := unwrapSOL(owner, wsol)
	if err != nil {
		return nil, err
	}

	ixs := []solana.Instruction{createWSOL}
	if event.Direction == domain.Buy {
		wrap, err := wrapSOL(owner, wsol, amount)
		if err != nil {
			return nil, err
		}
		createToken, err := createATAIdempotent(owner, event.Mint)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, wrap...)
		ixs = append(ixs, createToken)
	}
	return append(ixs, swap, closeWSOL), nil
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
