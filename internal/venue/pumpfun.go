package venue

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"solana-copy-trader/internal/balance"
	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/programs"
)

// PumpFunAdapter replicates pump.fun bonding-curve trades.
type PumpFunAdapter struct {
	opts   Options
	logger logrus.FieldLogger
}

// NewPumpFunAdapter creates a bonding-curve adapter.
func NewPumpFunAdapter(opts Options) (*PumpFunAdapter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &PumpFunAdapter{opts: opts, logger: opts.logger(domain.VenuePumpFun)}, nil
}

func (a *PumpFunAdapter) Venue() domain.Venue {
	return domain.VenuePumpFun
}

// BuildReplica prices the trade on the current curve. Buys spend at most
// the sized lamports and ask for the slippage-bounded token quote; sells
// spend the sized tokens and ask for the slippage-bounded SOL quote.
func (a *PumpFunAdapter) BuildReplica(ctx context.Context, event *domain.SwapEvent, view balance.View, policy domain.SizingPolicy) (*domain.ReplicaInstructionSet, error) {
	v := a.Venue()
	if event.Venue != v {
		return nil, newError(KindInvalidParams, v, "event venue is %s", event.Venue)
	}
	if len(event.PoolAccounts) < programs.PumpFunMinAccounts {
		return nil, newError(KindInvalidParams, v, "want at least %d accounts, got %d", programs.PumpFunMinAccounts, len(event.PoolAccounts))
	}

	amount, err := Size(event, view, policy)
	if err != nil {
		return nil, err
	}

	curveKey := event.PoolAccounts[programs.PumpFunAccBondingCurve].PublicKey
	state, err := a.opts.Freshness.read(ctx, a.opts.Reader, v, event.Slot, curveKey)
	if err != nil {
		return nil, err
	}
	if state.Data[0] == nil {
		return nil, newError(KindVenueClosed, v, "bonding curve %s does not exist", curveKey)
	}
	curve, err := programs.DecodeBondingCurve(state.Data[0])
	if err != nil {
		return nil, newError(KindInvalidParams, v, "%v", err)
	}
	if curve.Complete {
		return nil, newError(KindVenueClosed, v, "bonding curve for %s is complete", event.Mint)
	}

	owner := a.opts.Owner
	userATA, err := tokenAccountOf(owner, event.Mint)
	if err != nil {
		return nil, err
	}
	metas := copyMetas(event.PoolAccounts)
	replaceMeta(metas, programs.PumpFunAccUser, owner)
	replaceMeta(metas, programs.PumpFunAccAssociatedUser, userATA)

	bps := a.opts.SlippageBps
	set := &domain.ReplicaInstructionSet{Event: event, Amount: amount, StateSlot: state.Slot}

	switch event.Direction {
	case domain.Buy:
		expected, ok := pumpFunBuyQuote(curve, amount)
		if !ok {
			return nil, newError(KindSlippageExceeded, v, "no tokens for %d lamports", amount)
		}
		if err := checkRate(v, amount, expected, event.InputAmount, event.OutputAmount, bps); err != nil {
			return nil, err
		}
		tokens, err := MinWithSlippage(expected, bps)
		if err != nil || tokens == 0 {
			return nil, newError(KindSlippageExceeded, v, "token bound for %d lamports is zero", amount)
		}
		createATA, err := createATAIdempotent(owner, event.Mint)
		if err != nil {
			return nil, err
		}
		trade := programs.NewPumpFunTradeInstruction(metas, programs.PumpFunTradeArgs{
			Discriminator: programs.PumpFunBuyDiscriminator,
			Amount:        tokens,
			SolLimit:      amount,
		})
		set.Instructions = []solana.Instruction{createATA, trade}
		set.ExpectedOut = expected
		set.OutBound = tokens

	case domain.Sell:
		expected, ok := pumpFunSellQuote(curve, amount)
		if !ok {
			return nil, newError(KindSlippageExceeded, v, "no SOL for %d tokens", amount)
		}
		if err := checkRate(v, amount, expected, event.InputAmount, event.OutputAmount, bps); err != nil {
			return nil, err
		}
		minSol, err := MinWithSlippage(expected, bps)
		if err != nil {
			return nil, newError(KindSlippageExceeded, v, "%v", err)
		}
		trade := programs.NewPumpFunTradeInstruction(metas, programs.PumpFunTradeArgs{
			Discriminator: programs.PumpFunSellDiscriminator,
			Amount:        amount,
			SolLimit:      minSol,
		})
		set.Instructions = []solana.Instruction{trade}
		set.ExpectedOut = expected
		set.OutBound = minSol

	default:
		return nil, newError(KindInvalidParams, v, "unknown direction %s", event.Direction)
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
