package pipeline

import (
	"github.com/gagliardetto/solana-go"

	"solana-copy-trader/internal/balance"
	"solana-copy-trader/internal/domain"
)

// projectedView overlays the effect of earlier replicas in a group on the
// shared snapshot, so a sell that follows a buy in the same source
// transaction is sized from the buy's guaranteed output.
type projectedView struct {
	base    balance.View
	debits  map[solana.PublicKey]uint64
	credits map[solana.PublicKey]uint64
	// deficit is the most the group ever draws from pre-existing holdings
	// of each mint, in replica order.
	deficit map[solana.PublicKey]uint64
}

func newProjectedView(base balance.View) *projectedView {
	return &projectedView{
		base:    base,
		debits:  make(map[solana.PublicKey]uint64),
		credits: make(map[solana.PublicKey]uint64),
		deficit: make(map[solana.PublicKey]uint64),
	}
}

func (v *projectedView) adjust(mint solana.PublicKey, amount uint64) uint64 {
	amount = satAdd(amount, v.credits[mint])
	d := v.debits[mint]
	if d >= amount {
		return 0
	}
	return amount - d
}

// Holding implements balance.View.
func (v *projectedView) Holding(mint solana.PublicKey) (balance.Holding, bool) {
	h, ok := v.base.Holding(mint)
	_, credited := v.credits[mint]
	h.Amount = v.adjust(mint, h.Amount)
	return h, ok || credited
}

// Available implements balance.View.
func (v *projectedView) Available(mint solana.PublicKey) uint64 {
	return v.adjust(mint, v.base.Available(mint))
}

// apply records a built replica: its input is spent, its bounded output
// is received.
func (v *projectedView) apply(set *domain.ReplicaInstructionSet) {
	in, out := set.Event.InputMint(), set.Event.OutputMint()
	v.debits[in] = satAdd(v.debits[in], set.Amount)
	if d, c := v.debits[in], v.credits[in]; d > c && d-c > v.deficit[in] {
		v.deficit[in] = d - c
	}
	v.credits[out] = satAdd(v.credits[out], set.OutBound)
}

// reservations returns how much of each mint must be held from the
// snapshot while the group is in flight.
func (v *projectedView) reservations() map[solana.PublicKey]uint64 {
	out := make(map[solana.PublicKey]uint64, len(v.deficit))
	for mint, d := range v.deficit {
		if d > 0 {
			out[mint] = d
		}
	}
	return out
}

func satAdd(a, b uint64) uint64 {
	if a+b < a {
		return ^uint64(0)
	}
	return a + b
}
