package domain

import (
	"fmt"
	"math"
	"math/bits"
)

// Fraction is an exact non-negative rational used by sizing math.
type Fraction struct {
	Num uint64
	Den uint64
}

// NewFraction returns num/den. Den must be non-zero.
func NewFraction(num, den uint64) Fraction {
	return Fraction{Num: num, Den: den}
}

// Valid reports whether the fraction has a non-zero denominator.
func (f Fraction) Valid() bool {
	return f.Den != 0
}

// IsZero reports whether the fraction equals zero.
func (f Fraction) IsZero() bool {
	return f.Num == 0
}

// GreaterThanOne reports whether the fraction exceeds 1.
func (f Fraction) GreaterThanOne() bool {
	return f.Num > f.Den
}

// Apply returns floor(amount * f). ok is false on overflow or a zero
// denominator.
func (f Fraction) Apply(amount uint64) (uint64, bool) {
	if f.Den == 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(amount, f.Num)
	if hi >= f.Den {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, f.Den)
	return q, true
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// SizingMode selects how replica amounts are derived from target amounts.
type SizingMode string

const (
	// SizingProportional trades Fraction of the target's amount.
	SizingProportional SizingMode = "proportional"
	// SizingFixed trades FixedAmount regardless of the target's size.
	SizingFixed SizingMode = "fixed"
	// SizingBalanceCapped trades Ratio of the target's amount clamped to
	// Fraction of the copy wallet's available balance.
	SizingBalanceCapped SizingMode = "balance_capped"
)

// SizingPolicy is loaded from configuration and never mutated.
type SizingPolicy struct {
	Mode SizingMode

	// Fraction is the proportional scale or the balance cap, by mode.
	Fraction Fraction
	// Ratio is the proportional estimate used before the balance cap.
	// Zero value means 1.
	Ratio Fraction
	// FixedAmount is the input amount for SizingFixed, in input-mint base units.
	FixedAmount uint64

	// MinSOLReserve lamports are never spent by buys.
	MinSOLReserve uint64
}

// Proportional returns a proportional policy.
func Proportional(f Fraction) SizingPolicy {
	return SizingPolicy{Mode: SizingProportional, Fraction: f}
}

// Fixed returns a fixed-size policy.
func Fixed(amount uint64) SizingPolicy {
	return SizingPolicy{Mode: SizingFixed, FixedAmount: amount}
}

// BalanceCapped returns a policy clamped to maxFraction of the balance.
func BalanceCapped(maxFraction Fraction) SizingPolicy {
	return SizingPolicy{Mode: SizingBalanceCapped, Fraction: maxFraction}
}

// Validate checks the policy parameters.
func (p SizingPolicy) Validate() error {
	switch p.Mode {
	case SizingProportional:
		if !p.Fraction.Valid() || p.Fraction.IsZero() {
			return fmt.Errorf("proportional fraction must be > 0, got %s", p.Fraction)
		}
	case SizingFixed:
		if p.FixedAmount == 0 {
			return fmt.Errorf("fixed amount must be > 0")
		}
	case SizingBalanceCapped:
		if !p.Fraction.Valid() || p.Fraction.IsZero() || p.Fraction.GreaterThanOne() {
			return fmt.Errorf("balance cap must be in (0, 1], got %s", p.Fraction)
		}
		if p.Ratio.Valid() && p.Ratio.IsZero() {
			return fmt.Errorf("balance-capped ratio must be > 0")
		}
	default:
		return fmt.Errorf("unknown sizing mode %q", p.Mode)
	}
	return nil
}

// PriorityPolicy configures compute budget and relay tip.
type PriorityPolicy struct {
	// UnitPriceMicroLamports is the compute-unit price. Zero omits the
	// price instruction.
	UnitPriceMicroLamports uint64
	// ComputeUnitLimit bounds compute units for the whole transaction.
	ComputeUnitLimit uint32
	// TipLamports is paid to a relay tip account. Zero sends no tip.
	TipLamports uint64
}

// Default priority values.
const (
	DefaultUnitPriceMicroLamports uint64 = 1_000
	DefaultComputeUnitLimit       uint32 = 300_000
)

// DefaultPriorityPolicy returns the default compute budget without tip.
func DefaultPriorityPolicy() PriorityPolicy {
	return PriorityPolicy{
		UnitPriceMicroLamports: DefaultUnitPriceMicroLamports,
		ComputeUnitLimit:       DefaultComputeUnitLimit,
	}
}

// PriorityFeeMicroLamports returns unit price times unit limit, saturating.
func (p PriorityPolicy) PriorityFeeMicroLamports() uint64 {
	hi, lo := bits.Mul64(p.UnitPriceMicroLamports, uint64(p.ComputeUnitLimit))
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

// PriorityFeeLamports returns the priority fee rounded up to whole lamports.
func (p PriorityPolicy) PriorityFeeLamports() uint64 {
	micro := p.PriorityFeeMicroLamports()
	fee := micro / 1_000_000
	if micro%1_000_000 != 0 {
		fee++
	}
	return fee
}
