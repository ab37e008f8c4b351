package domain

import "github.com/gagliardetto/solana-go"

// ReplicaInstructionSet is the venue-specific instruction sequence that
// replays one SwapEvent from the copy wallet.
type ReplicaInstructionSet struct {
	Event        *SwapEvent
	Instructions []solana.Instruction

	// Amount is the replica input amount in input-mint base units.
	Amount uint64
	// ExpectedOut is the output predicted from fetched state.
	ExpectedOut uint64
	// OutBound is the slippage-bounded output limit encoded in the
	// instruction (min out, or tokens for a max-cost buy).
	OutBound uint64
	// StateSlot is the slot at which pricing state was read.
	StateSlot uint64
}

// Merge concatenates instruction sets in order. The result keeps the
// first set's event.
func Merge(sets ...*ReplicaInstructionSet) *ReplicaInstructionSet {
	if len(sets) == 0 {
		return nil
	}
	if len(sets) == 1 {
		return sets[0]
	}
	out := &ReplicaInstructionSet{Event: sets[0].Event}
	for _, s := range sets {
		out.Instructions = append(out.Instructions, s.Instructions...)
		out.Amount += s.Amount
		out.ExpectedOut += s.ExpectedOut
		out.OutBound += s.OutBound
		if s.StateSlot > out.StateSlot {
			out.StateSlot = s.StateSlot
		}
	}
	return out
}
