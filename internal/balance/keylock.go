package balance

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// KeyLock is a per-mint mutual exclusion scope. Different mints never
// contend. Entries are dropped when the last holder or waiter leaves.
type KeyLock struct {
	mu    sync.Mutex
	slots map[solana.PublicKey]*keySlot
}

type keySlot struct {
	sem  chan struct{}
	refs int
}

// NewKeyLock creates an empty KeyLock.
func NewKeyLock() *KeyLock {
	return &KeyLock{slots: make(map[solana.PublicKey]*keySlot)}
}

// Lock blocks until mint is free or ctx is done. The returned func
// releases the lock and must be called exactly once.
func (l *KeyLock) Lock(ctx context.Context, mint solana.PublicKey) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[mint]
	if !ok {
		slot = &keySlot{sem: make(chan struct{}, 1)}
		l.slots[mint] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.leave(mint, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.sem
			l.leave(mint, slot)
		})
	}, nil
}

func (l *KeyLock) leave(mint solana.PublicKey, slot *keySlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, mint)
	}
}

// Len returns the number of mints currently held or awaited.
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
