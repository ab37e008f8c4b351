package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"solana-copy-trader/internal/storage"
)

func TestSeenSignatureStore_MarkSeen(t *testing.T) {
	s := NewSeenSignatureStore(storage.SeenOptions{})
	ctx := context.Background()

	first, err := s.MarkSeen(ctx, "sig1")
	if err != nil || !first {
		t.Fatalf("first MarkSeen = %v, %v; want true, nil", first, err)
	}
	again, err := s.MarkSeen(ctx, "sig1")
	if err != nil || again {
		t.Fatalf("second MarkSeen = %v, %v; want false, nil", again, err)
	}

	if err := s.Forget(ctx, "sig1"); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if ok, _ := s.MarkSeen(ctx, "sig1"); !ok {
		t.Errorf("forgotten signature should be new again")
	}

	if _, err := s.MarkSeen(ctx, ""); err != storage.ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSeenSignatureStore_Expiry(t *testing.T) {
	s := NewSeenSignatureStore(storage.SeenOptions{TTL: time.Minute})
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	s.MarkSeen(ctx, "sig1")
	now = now.Add(59 * time.Second)
	if ok, _ := s.MarkSeen(ctx, "sig1"); ok {
		t.Errorf("signature expired early")
	}
	now = now.Add(2 * time.Second)
	if ok, _ := s.MarkSeen(ctx, "sig1"); !ok {
		t.Errorf("signature should have expired")
	}
}

func TestSeenSignatureStore_Capacity(t *testing.T) {
	s := NewSeenSignatureStore(storage.SeenOptions{Capacity: 3})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		s.MarkSeen(ctx, fmt.Sprintf("sig%d", i))
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", s.Len())
	}
	// Newest entries survive, oldest are evicted.
	if ok, _ := s.MarkSeen(ctx, "sig9"); ok {
		t.Errorf("newest entry was evicted")
	}
	if ok, _ := s.MarkSeen(ctx, "sig0"); !ok {
		t.Errorf("oldest entry should have been evicted")
	}
}

func TestSeenSignatureStore_ConcurrentFirstWins(t *testing.T) {
	s := NewSeenSignatureStore(storage.SeenOptions{})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.MarkSeen(ctx, "shared"); ok {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if firsts != 1 {
		t.Errorf("expected exactly one first mark, got %d", firsts)
	}
}
