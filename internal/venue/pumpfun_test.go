package venue

import (
	"context"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/programs"
	"solana-copy-trader/internal/wire/stub"
)

const (
	testVirtualTokens uint64 = 1_073_000_000_000_000
	testVirtualSol    uint64 = 30_000_000_000
	testRealTokens    uint64 = 793_100_000_000_000
	testRealSol       uint64 = 5_000_000_000
)

type pumpFixture struct {
	owner   solana.PublicKey
	target  solana.PublicKey
	mint    solana.PublicKey
	curve   solana.PublicKey
	reader  *fakeReader
	adapter *PumpFunAdapter
}

func newPumpFixture(t *testing.T) *pumpFixture {
	t.Helper()
	f := &pumpFixture{
		owner:  solana.NewWallet().PublicKey(),
		target: solana.NewWallet().PublicKey(),
		mint:   solana.NewWallet().PublicKey(),
		reader: newFakeReader(1_000),
	}
	curve, err := programs.BondingCurvePDA(f.mint)
	require.NoError(t, err)
	f.curve = curve
	f.reader.accounts[curve] = bondingCurveData(testVirtualTokens, testVirtualSol, testRealTokens, testRealSol, false)

	f.adapter, err = NewPumpFunAdapter(Options{Owner: f.owner, Reader: f.reader, SlippageBps: 100})
	require.NoError(t, err)
	return f
}

func (f *pumpFixture) event(t *testing.T, direction domain.Direction, amount, limit uint64) *domain.SwapEvent {
	t.Helper()
	tokenAmount, solLimit := amount, limit
	if direction == domain.Buy {
		tokenAmount, solLimit = limit, amount
	}
	ix, err := stub.PumpFunTrade(f.target, f.mint, direction, tokenAmount, solLimit)
	require.NoError(t, err)
	out := limit
	return &domain.SwapEvent{
		Venue:        domain.VenuePumpFun,
		Direction:    direction,
		Mint:         f.mint,
		InputAmount:  amount,
		OutputAmount: &out,
		PoolAccounts: ix.Accounts(),
		Signature:    solana.Signature{7},
		Slot:         1_000,
	}
}

// bigBuyQuote recomputes the curve buy independently of mulDiv.
func bigBuyQuote(budget uint64) uint64 {
	solIn := new(big.Int).Mul(big.NewInt(0).SetUint64(budget), big.NewInt(10_000))
	solIn.Div(solIn, big.NewInt(10_100))
	num := new(big.Int).Mul(new(big.Int).SetUint64(testVirtualTokens), solIn)
	den := new(big.Int).Add(new(big.Int).SetUint64(testVirtualSol), solIn)
	return num.Div(num, den).Uint64()
}

func decodeTrade(t *testing.T, ix solana.Instruction) *programs.PumpFunTradeArgs {
	t.Helper()
	data, err := ix.Data()
	require.NoError(t, err)
	args, err := programs.DecodePumpFunTradeArgs(data)
	require.NoError(t, err)
	return args
}

func TestPumpFun_BalanceCappedBuy(t *testing.T) {
	f := newPumpFixture(t)
	quote := bigBuyQuote(1_000_000)
	event := f.event(t, domain.Buy, 1_000_000, quote)
	view := snapshotWith(t, map[solana.PublicKey]uint64{domain.WrappedSOL: 2_000_000})

	set, err := f.adapter.BuildReplica(context.Background(), event, view, domain.BalanceCapped(domain.NewFraction(1, 2)))
	require.NoError(t, err)

	assert.Equal(t, uint64(1_000_000), set.Amount)
	assert.Equal(t, quote, set.ExpectedOut)
	assert.Equal(t, uint64(1_000), set.StateSlot)
	require.Len(t, set.Instructions, 2)

	createATA := set.Instructions[0]
	assert.Equal(t, programs.AssociatedTokenID, createATA.ProgramID())
	data, err := createATA.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, data)

	buy := set.Instructions[1]
	assert.Equal(t, programs.PumpFunProgramID, buy.ProgramID())
	args := decodeTrade(t, buy)
	assert.Equal(t, programs.PumpFunBuyDiscriminator, args.Discriminator)
	assert.Equal(t, uint64(1_000_000), args.SolLimit)
	wantTokens, err := MinWithSlippage(quote, 100)
	require.NoError(t, err)
	assert.Equal(t, wantTokens, args.Amount)
	assert.Equal(t, wantTokens, set.OutBound)

	metas := buy.Accounts()
	ata, _, err := solana.FindAssociatedTokenAddress(f.owner, f.mint)
	require.NoError(t, err)
	assert.Equal(t, f.owner, metas[programs.PumpFunAccUser].PublicKey)
	assert.True(t, metas[programs.PumpFunAccUser].IsSigner)
	assert.True(t, metas[programs.PumpFunAccUser].IsWritable)
	assert.Equal(t, ata, metas[programs.PumpFunAccAssociatedUser].PublicKey)
	assert.Equal(t, f.curve, metas[programs.PumpFunAccBondingCurve].PublicKey)
	for i, m := range event.PoolAccounts {
		if i == programs.PumpFunAccUser || i == programs.PumpFunAccAssociatedUser {
			continue
		}
		assert.Equal(t, m.PublicKey, metas[i].PublicKey, "account %d", i)
		assert.Equal(t, m.IsWritable, metas[i].IsWritable, "account %d", i)
	}

	// The target's metas are untouched.
	assert.Equal(t, f.target, event.PoolAccounts[programs.PumpFunAccUser].PublicKey)
}

func TestPumpFun_ProportionalSell(t *testing.T) {
	f := newPumpFixture(t)
	event := f.event(t, domain.Sell, 1_000_000_000, 0)
	view := snapshotWith(t, map[solana.PublicKey]uint64{f.mint: 10_000_000_000})

	set, err := f.adapter.BuildReplica(context.Background(), event, view, domain.Proportional(domain.NewFraction(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000_000), set.Amount)
	require.Len(t, set.Instructions, 1)

	expected, ok := pumpFunSellQuote(&programs.BondingCurveAccount{
		VirtualTokenReserves: testVirtualTokens,
		VirtualSolReserves:   testVirtualSol,
		RealSolReserves:      testRealSol,
	}, 500_000_000)
	require.True(t, ok)
	minSol, err := MinWithSlippage(expected, 100)
	require.NoError(t, err)

	args := decodeTrade(t, set.Instructions[0])
	assert.Equal(t, programs.PumpFunSellDiscriminator, args.Discriminator)
	assert.Equal(t, uint64(500_000_000), args.Amount)
	assert.Equal(t, minSol, args.SolLimit)
	assert.Equal(t, expected, set.ExpectedOut)
}

func TestPumpFun_ProportionalSellBoundedByBalance(t *testing.T) {
	f := newPumpFixture(t)
	event := f.event(t, domain.Sell, 1_000_000_000, 0)
	view := snapshotWith(t, map[solana.PublicKey]uint64{f.mint: 123_456})

	set, err := f.adapter.BuildReplica(context.Background(), event, view, domain.Proportional(domain.NewFraction(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, uint64(123_456), set.Amount)
}

func TestPumpFun_Aborts(t *testing.T) {
	policy := domain.Proportional(domain.NewFraction(1, 1))
	funded := map[solana.PublicKey]uint64{domain.WrappedSOL: 10_000_000}

	t.Run("complete curve", func(t *testing.T) {
		f := newPumpFixture(t)
		f.reader.accounts[f.curve] = bondingCurveData(testVirtualTokens, testVirtualSol, 0, testRealSol, true)
		_, err := f.adapter.BuildReplica(context.Background(), f.event(t, domain.Buy, 1_000_000, 0), snapshotWith(t, funded), policy)
		assert.ErrorIs(t, err, ErrVenueClosed)
	})

	t.Run("missing curve", func(t *testing.T) {
		f := newPumpFixture(t)
		delete(f.reader.accounts, f.curve)
		_, err := f.adapter.BuildReplica(context.Background(), f.event(t, domain.Buy, 1_000_000, 0), snapshotWith(t, funded), policy)
		assert.ErrorIs(t, err, ErrVenueClosed)
	})

	t.Run("price moved past tolerance", func(t *testing.T) {
		f := newPumpFixture(t)
		event := f.event(t, domain.Buy, 1_000_000, 2*bigBuyQuote(1_000_000))
		_, err := f.adapter.BuildReplica(context.Background(), event, snapshotWith(t, funded), policy)
		assert.ErrorIs(t, err, ErrSlippageExceeded)
	})

	t.Run("stale state", func(t *testing.T) {
		f := newPumpFixture(t)
		event := f.event(t, domain.Buy, 1_000_000, 0)
		event.Slot = 1_000 + DefaultMaxSlotLag + 1
		_, err := f.adapter.BuildReplica(context.Background(), event, snapshotWith(t, funded), policy)
		assert.ErrorIs(t, err, ErrStaleState)
	})

	t.Run("no balance reads no state", func(t *testing.T) {
		f := newPumpFixture(t)
		_, err := f.adapter.BuildReplica(context.Background(), f.event(t, domain.Buy, 1_000_000, 0), snapshotWith(t, nil), policy)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Zero(t, f.reader.calls)
	})

	t.Run("wrong venue", func(t *testing.T) {
		f := newPumpFixture(t)
		event := f.event(t, domain.Buy, 1_000_000, 0)
		event.Venue = domain.VenueRaydiumV4
		_, err := f.adapter.BuildReplica(context.Background(), event, snapshotWith(t, funded), policy)
		assert.ErrorIs(t, err, ErrInvalidParams)
	})
}
