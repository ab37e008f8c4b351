package venue

import (
	"fmt"
	"math/bits"

	"solana-copy-trader/internal/domain"
)

// Slippage bounds in basis points.
const (
	DefaultSlippageBps uint64 = 100
	MaxSlippageBps     uint64 = 5000
	bpsDenominator     uint64 = 10_000
)

// ValidateSlippage rejects tolerances above MaxSlippageBps.
func ValidateSlippage(bps uint64) error {
	if bps > MaxSlippageBps {
		return newError(KindInvalidParams, "", "slippage %d bps exceeds max %d", bps, MaxSlippageBps)
	}
	return nil
}

// MinWithSlippage returns a*(10000-bps)/10000, the lowest acceptable output.
func MinWithSlippage(a, bps uint64) (uint64, error) {
	if bps >= bpsDenominator {
		return 0, fmt.Errorf("slippage %d bps must be below %d", bps, bpsDenominator)
	}
	v, ok := mulDiv(a, bpsDenominator-bps, bpsDenominator)
	if !ok {
		return 0, fmt.Errorf("min with slippage overflows for %d", a)
	}
	return v, nil
}

// MaxWithSlippage returns a*(10000+bps)/10000, the highest acceptable input.
func MaxWithSlippage(a, bps uint64) (uint64, error) {
	v, ok := mulDiv(a, bpsDenominator+bps, bpsDenominator)
	if !ok {
		return 0, fmt.Errorf("max with slippage overflows for %d", a)
	}
	return v, nil
}

// mulDiv returns floor(a*b/c). ok is false on overflow or c == 0.
func mulDiv(a, b, c uint64) (uint64, bool) {
	if c == 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, c)
	return q, true
}

// checkRate fails when the replica's expected rate out/in is worse than the
// target's limit rate targetOut/targetIn by more than bps. A target without
// an output limit accepts any rate.
func checkRate(v domain.Venue, in, out, targetIn uint64, targetOut *uint64, bps uint64) error {
	if out == 0 {
		return newError(KindSlippageExceeded, v, "expected output is zero for input %d", in)
	}
	if targetOut == nil || *targetOut == 0 || targetIn == 0 {
		return nil
	}
	// out/in >= (targetOut/targetIn) * (10000-bps)/10000
	lhsHi, lhsLo := mul128(out, targetIn, bpsDenominator)
	rhsHi, rhsLo := mul128(*targetOut, in, bpsDenominator-bps)
	if lhsHi < rhsHi || (lhsHi == rhsHi && lhsLo < rhsLo) {
		return newError(KindSlippageExceeded, v,
			"expected %d out for %d in, target limit %d for %d at %d bps", out, in, *targetOut, targetIn, bps)
	}
	return nil
}

// mul128 returns a*b*c as a 128-bit value, saturating.
func mul128(a, b, c uint64) (uint64, uint64) {
	hi, lo := bits.Mul64(a, b)
	h1, l1 := bits.Mul64(lo, c)
	h2, l2 := bits.Mul64(hi, c)
	if h2 != 0 {
		return ^uint64(0), ^uint64(0)
	}
	sum, carry := bits.Add64(h1, l2, 0)
	if carry != 0 {
		return ^uint64(0), ^uint64(0)
	}
	return sum, l1
}
