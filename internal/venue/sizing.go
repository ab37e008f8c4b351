package venue

import (
	"solana-copy-trader/internal/balance"
	"solana-copy-trader/internal/domain"
)

// Available returns what the copy wallet may spend on event's input mint.
// Buys keep policy.MinSOLReserve lamports untouched.
func Available(event *domain.SwapEvent, view balance.View, policy domain.SizingPolicy) uint64 {
	avail := view.Available(event.InputMint())
	if event.Direction == domain.Buy {
		if avail <= policy.MinSOLReserve {
			return 0
		}
		avail -= policy.MinSOLReserve
	}
	return avail
}

// Size derives the replica input amount from the target's input amount.
//
// Proportional scales the target amount and clamps to the available
// balance. Fixed spends the configured amount and fails when it is not
// available. BalanceCapped scales by Ratio (1 when unset) and clamps to
// Fraction of the available balance.
func Size(event *domain.SwapEvent, view balance.View, policy domain.SizingPolicy) (uint64, error) {
	if event.InputAmount == 0 {
		return 0, newError(KindInvalidParams, event.Venue, "target input amount is zero")
	}
	if err := policy.Validate(); err != nil {
		return 0, newError(KindInvalidParams, event.Venue, "%v", err)
	}

	avail := Available(event, view, policy)
	var amount uint64

	switch policy.Mode {
	case domain.SizingProportional:
		scaled, ok := policy.Fraction.Apply(event.InputAmount)
		if !ok {
			return 0, newError(KindInvalidParams, event.Venue, "proportional %s of %d overflows", policy.Fraction, event.InputAmount)
		}
		if scaled == 0 {
			return 0, newError(KindInvalidParams, event.Venue, "proportional %s of %d rounds to zero", policy.Fraction, event.InputAmount)
		}
		amount = min(scaled, avail)

	case domain.SizingFixed:
		if policy.FixedAmount > avail {
			return 0, newError(KindInsufficientBalance, event.Venue,
				"fixed amount %d exceeds available %d of %s", policy.FixedAmount, avail, event.InputMint())
		}
		amount = policy.FixedAmount

	case domain.SizingBalanceCapped:
		ratio := policy.Ratio
		if !ratio.Valid() {
			ratio = domain.NewFraction(1, 1)
		}
		estimate, ok := ratio.Apply(event.InputAmount)
		if !ok {
			return 0, newError(KindInvalidParams, event.Venue, "ratio %s of %d overflows", ratio, event.InputAmount)
		}
		limit, _ := policy.Fraction.Apply(avail) // fraction <= 1 cannot overflow
		amount = min(estimate, limit)
	}

	if amount == 0 {
		return 0, newError(KindInsufficientBalance, event.Venue,
			"no spendable %s (available %d)", event.InputMint(), avail)
	}
	return amount, nil
}
