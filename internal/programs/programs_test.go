package programs

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPumpFunTradeArgs_Layout(t *testing.T) {
	args := PumpFunTradeArgs{Discriminator: PumpFunBuyDiscriminator, Amount: 7, SolLimit: 9}
	data := args.Encode()
	require.Len(t, data, PumpFunTradeArgsSize)
	assert.Equal(t, []byte{102, 6, 61, 18, 1, 218, 235, 234}, data[:8])
	assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(data[8:16]))

	decoded, err := DecodePumpFunTradeArgs(append(data, 0xff, 0x01))
	require.NoError(t, err)
	assert.Equal(t, args, *decoded)

	_, err = DecodePumpFunTradeArgs(data[:23])
	assert.Error(t, err)
}

func TestPumpFunSellDiscriminatorBytes(t *testing.T) {
	data := PumpFunTradeArgs{Discriminator: PumpFunSellDiscriminator}.Encode()
	assert.Equal(t, []byte{51, 230, 133, 164, 1, 127, 131, 173}, data[:8])
}

func TestDecodeBondingCurve(t *testing.T) {
	data := make([]byte, BondingCurveAccountSize+8)
	binary.LittleEndian.PutUint64(data[8:], 1_073_000_000_000_000)
	binary.LittleEndian.PutUint64(data[16:], 30_000_000_000)
	binary.LittleEndian.PutUint64(data[24:], 793_100_000_000_000)
	binary.LittleEndian.PutUint64(data[32:], 0)
	binary.LittleEndian.PutUint64(data[40:], 1_000_000_000_000_000)
	data[48] = 1

	curve, err := DecodeBondingCurve(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_073_000_000_000_000), curve.VirtualTokenReserves)
	assert.Equal(t, uint64(30_000_000_000), curve.VirtualSolReserves)
	assert.Equal(t, uint64(793_100_000_000_000), curve.RealTokenReserves)
	assert.True(t, curve.Complete)

	_, err = DecodeBondingCurve(data[:40])
	assert.Error(t, err)
}

func TestBondingCurvePDA_Deterministic(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	a, err := BondingCurvePDA(mint)
	require.NoError(t, err)
	b, err := BondingCurvePDA(mint)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, mint, a)
}

func TestPumpFunTradeAccounts(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	user := solana.NewWallet().PublicKey()

	buy, err := PumpFunTradeAccounts(mint, user, false)
	require.NoError(t, err)
	require.Len(t, buy, 12)
	assert.Equal(t, user, buy[PumpFunAccUser].PublicKey)
	assert.True(t, buy[PumpFunAccUser].IsSigner)
	assert.Equal(t, RentSysvarID, buy[9].PublicKey)

	sell, err := PumpFunTradeAccounts(mint, user, true)
	require.NoError(t, err)
	assert.Equal(t, AssociatedTokenID, sell[8].PublicKey)

	ata, _, err := solana.FindAssociatedTokenAddress(user, mint)
	require.NoError(t, err)
	assert.Equal(t, ata, buy[PumpFunAccAssociatedUser].PublicKey)
}

func TestDecodeRaydiumSwapArgs(t *testing.T) {
	data := RaydiumSwapArgs{Instruction: RaydiumSwapBaseIn, AmountA: 500, AmountB: 450}.Encode()
	args, err := DecodeRaydiumSwapArgs(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), args.AmountA)
	assert.Equal(t, uint64(450), args.AmountB)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "short", data: data[:16]},
		{name: "long", data: append(append([]byte(nil), data...), 0)},
		{name: "wrong tag", data: append([]byte{3}, data[1:]...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRaydiumSwapArgs(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestRaydiumLayoutFor(t *testing.T) {
	l18, ok := RaydiumLayoutFor(18)
	require.True(t, ok)
	assert.Equal(t, 17, l18.UserOwner)

	l17, ok := RaydiumLayoutFor(17)
	require.True(t, ok)
	assert.Equal(t, 16, l17.UserOwner)
	assert.Equal(t, 4, l17.CoinVault)

	_, ok = RaydiumLayoutFor(12)
	assert.False(t, ok)
}

func TestDecodeRaydiumAmmInfo_Offsets(t *testing.T) {
	data := make([]byte, RaydiumAmmInfoSize)
	binary.LittleEndian.PutUint64(data[176:], 25)
	binary.LittleEndian.PutUint64(data[184:], 10_000)
	baseVault := solana.NewWallet().PublicKey()
	quoteMint := solana.NewWallet().PublicKey()
	copy(data[336:], baseVault[:])
	copy(data[432:], quoteMint[:])

	info, err := DecodeRaydiumAmmInfo(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), info.SwapFeeNumerator)
	assert.Equal(t, uint64(10_000), info.SwapFeeDenominator)
	assert.Equal(t, baseVault, info.BaseVault)
	assert.Equal(t, quoteMint, info.QuoteMint)

	_, err = DecodeRaydiumAmmInfo(data[:700])
	assert.Error(t, err)
}

func TestDecodeTokenAccount(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	data := make([]byte, TokenAccountSize)
	copy(data[0:], mint[:])
	copy(data[32:], owner[:])
	binary.LittleEndian.PutUint64(data[64:], 123_456)

	acc, err := DecodeTokenAccount(data)
	require.NoError(t, err)
	assert.Equal(t, mint, acc.Mint)
	assert.Equal(t, owner, acc.Owner)
	assert.Equal(t, uint64(123_456), acc.Amount)

	_, err = DecodeTokenAccount(data[:100])
	assert.Error(t, err)
}
