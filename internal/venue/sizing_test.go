package venue

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-copy-trader/internal/domain"
)

func sellEvent(mint solana.PublicKey, tokens uint64) *domain.SwapEvent {
	return &domain.SwapEvent{Venue: domain.VenuePumpFun, Direction: domain.Sell, Mint: mint, InputAmount: tokens}
}

func buyEvent(mint solana.PublicKey, lamports uint64) *domain.SwapEvent {
	return &domain.SwapEvent{Venue: domain.VenuePumpFun, Direction: domain.Buy, Mint: mint, InputAmount: lamports}
}

func TestSize_ProportionalHalfOfSell(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	half := domain.Proportional(domain.NewFraction(1, 2))

	tests := []struct {
		name   string
		target uint64
		held   uint64
		want   uint64
	}{
		{"exact half", 1_000, 10_000, 500},
		{"odd amount floors", 1_001, 10_000, 500},
		{"bounded by balance", 1_000, 300, 300},
		{"balance equals half", 1_000, 500, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := snapshotWith(t, map[solana.PublicKey]uint64{mint: tt.held})
			got, err := Size(sellEvent(mint, tt.target), view, half)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSize_ProportionalNothingHeld(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	view := snapshotWith(t, nil)
	_, err := Size(sellEvent(mint, 1_000), view, domain.Proportional(domain.NewFraction(1, 2)))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestSize_ProportionalRoundsToZero(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	view := snapshotWith(t, map[solana.PublicKey]uint64{mint: 10})
	_, err := Size(sellEvent(mint, 1), view, domain.Proportional(domain.NewFraction(1, 2)))
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestSize_Fixed(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	view := snapshotWith(t, map[solana.PublicKey]uint64{domain.WrappedSOL: 5_000})

	got, err := Size(buyEvent(mint, 1), view, domain.Fixed(5_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), got)

	_, err = Size(buyEvent(mint, 1), view, domain.Fixed(5_001))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestSize_BalanceCapped(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	view := snapshotWith(t, map[solana.PublicKey]uint64{domain.WrappedSOL: 2_000_000})
	policy := domain.BalanceCapped(domain.NewFraction(1, 2))

	got, err := Size(buyEvent(mint, 1_000_000), view, policy)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), got)

	got, err = Size(buyEvent(mint, 3_000_000), view, policy)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), got, "capped at half the balance")

	got, err = Size(buyEvent(mint, 400_000), view, policy)
	require.NoError(t, err)
	assert.Equal(t, uint64(400_000), got)

	policy.Ratio = domain.NewFraction(1, 4)
	got, err = Size(buyEvent(mint, 1_000_000), view, policy)
	require.NoError(t, err)
	assert.Equal(t, uint64(250_000), got)
}

func TestSize_BuyKeepsReserve(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	view := snapshotWith(t, map[solana.PublicKey]uint64{domain.WrappedSOL: 1_000_000})
	policy := domain.Proportional(domain.NewFraction(1, 1))
	policy.MinSOLReserve = 400_000

	got, err := Size(buyEvent(mint, 1_000_000), view, policy)
	require.NoError(t, err)
	assert.Equal(t, uint64(600_000), got)

	policy.MinSOLReserve = 1_000_000
	_, err = Size(buyEvent(mint, 1_000_000), view, policy)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestSize_RespectsReservations(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	view := snapshotWith(t, map[solana.PublicKey]uint64{mint: 1_000})
	require.NoError(t, view.Reserve(mint, 800))

	got, err := Size(sellEvent(mint, 1_000), view, domain.Proportional(domain.NewFraction(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, uint64(200), got)
}

func TestSize_InvalidInputs(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	view := snapshotWith(t, map[solana.PublicKey]uint64{mint: 1_000})

	_, err := Size(sellEvent(mint, 0), view, domain.Proportional(domain.NewFraction(1, 2)))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = Size(sellEvent(mint, 10), view, domain.SizingPolicy{Mode: "martingale"})
	assert.ErrorIs(t, err, ErrInvalidParams)
}
