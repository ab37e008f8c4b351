package venue

import (
	"solana-copy-trader/internal/programs"
)

// pumpFunBuyQuote returns the tokens bought with budget lamports, fee
// included, on curve. The fee is charged on top of the SOL that enters
// the curve.
func pumpFunBuyQuote(curve *programs.BondingCurveAccount, budget uint64) (uint64, bool) {
	solIn, ok := mulDiv(budget, bpsDenominator, bpsDenominator+programs.PumpFunFeeBasisPoints)
	if !ok || solIn == 0 {
		return 0, false
	}
	denom := curve.VirtualSolReserves + solIn
	if denom < solIn {
		return 0, false
	}
	out, ok := mulDiv(curve.VirtualTokenReserves, solIn, denom)
	if !ok {
		return 0, false
	}
	return min(out, curve.RealTokenReserves), true
}

// pumpFunSellQuote returns the lamports received for tokens, after fee.
func pumpFunSellQuote(curve *programs.BondingCurveAccount, tokens uint64) (uint64, bool) {
	denom := curve.VirtualTokenReserves + tokens
	if denom < tokens {
		return 0, false
	}
	gross, ok := mulDiv(curve.VirtualSolReserves, tokens, denom)
	if !ok {
		return 0, false
	}
	gross = min(gross, curve.RealSolReserves)
	fee, _ := mulDiv(gross, programs.PumpFunFeeBasisPoints, bpsDenominator)
	return gross - fee, true
}

// constantProductQuote returns the output of a fee-charging x*y=k swap.
func constantProductQuote(reserveIn, reserveOut, amountIn, feeNum, feeDen uint64) (uint64, bool) {
	if reserveIn == 0 || reserveOut == 0 || feeDen == 0 || feeNum >= feeDen {
		return 0, false
	}
	inAfterFee, ok := mulDiv(amountIn, feeDen-feeNum, feeDen)
	if !ok {
		return 0, false
	}
	denom := reserveIn + inAfterFee
	if denom < inAfterFee {
		return 0, false
	}
	return mulDiv(reserveOut, inAfterFee, denom)
}
