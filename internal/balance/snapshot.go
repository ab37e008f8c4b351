// Package balance tracks the copy wallet's holdings and serializes
// replications per mint.
package balance

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// ErrInsufficient is returned when a reservation exceeds the available amount.
var ErrInsufficient = errors.New("insufficient available balance")

// Holding is the last-known amount of one mint.
type Holding struct {
	Amount uint64
	// Reserved is held by in-flight replications.
	Reserved  uint64
	Slot      uint64
	UpdatedAt time.Time
}

// Available returns Amount minus Reserved.
func (h Holding) Available() uint64 {
	if h.Reserved >= h.Amount {
		return 0
	}
	return h.Amount - h.Reserved
}

// View is the read side used by sizing.
type View interface {
	Holding(mint solana.PublicKey) (Holding, bool)
	Available(mint solana.PublicKey) uint64
}

// Snapshot is the copy wallet's holdings per mint. Lamports are keyed
// under the wrapped SOL mint.
type Snapshot struct {
	mu       sync.RWMutex
	holdings map[solana.PublicKey]Holding
	now      func() time.Time
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		holdings: make(map[solana.PublicKey]Holding),
		now:      time.Now,
	}
}

// Set records an amount read at slot. Reads older than the stored slot are
// ignored. Reservations are kept.
func (s *Snapshot) Set(mint solana.PublicKey, amount, slot uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holdings[mint]
	if ok && slot < h.Slot {
		return false
	}
	h.Amount = amount
	h.Slot = slot
	h.UpdatedAt = s.now()
	s.holdings[mint] = h
	return true
}

// Holding returns the stored holding for mint.
func (s *Snapshot) Holding(mint solana.PublicKey) (Holding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holdings[mint]
	return h, ok
}

// Available returns the unreserved amount of mint.
func (s *Snapshot) Available(mint solana.PublicKey) uint64 {
	h, _ := s.Holding(mint)
	return h.Available()
}

// Reserve holds amount of mint for an in-flight replication.
func (s *Snapshot) Reserve(mint solana.PublicKey, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.holdings[mint]
	if amount > h.Available() {
		return fmt.Errorf("%w: want %d of %s, have %d", ErrInsufficient, amount, mint, h.Available())
	}
	h.Reserved += amount
	s.holdings[mint] = h
	return nil
}

// Release returns a reservation.
func (s *Snapshot) Release(mint solana.PublicKey, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holdings[mint]
	if !ok {
		return
	}
	if amount > h.Reserved {
		amount = h.Reserved
	}
	h.Reserved -= amount
	s.holdings[mint] = h
}

// Settle converts a reservation of spent into a debit and credits the
// estimated output. A later refresh replaces both with chain values.
func (s *Snapshot) Settle(spentMint solana.PublicKey, spent uint64, gotMint solana.PublicKey, got uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.holdings[spentMint]
	r := spent
	if r > h.Reserved {
		r = h.Reserved
	}
	h.Reserved -= r
	if spent > h.Amount {
		h.Amount = 0
	} else {
		h.Amount -= spent
	}
	h.UpdatedAt = s.now()
	s.holdings[spentMint] = h

	g := s.holdings[gotMint]
	if g.Amount+got < g.Amount {
		g.Amount = ^uint64(0)
	} else {
		g.Amount += got
	}
	g.UpdatedAt = s.now()
	s.holdings[gotMint] = g
}

// Mints returns every mint with a stored holding.
func (s *Snapshot) Mints() []solana.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]solana.PublicKey, 0, len(s.holdings))
	for m := range s.holdings {
		out = append(out, m)
	}
	return out
}
