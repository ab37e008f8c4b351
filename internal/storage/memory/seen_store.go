package memory

import (
	"context"
	"sync"
	"time"

	"solana-copy-trader/internal/storage"
)

// Default retention of the in-memory dedup set.
const (
	DefaultSeenTTL      = 24 * time.Hour
	DefaultSeenCapacity = 100_000
)

// SeenSignatureStore is a bounded in-memory dedup set. Entries expire after
// TTL; the oldest entry is evicted once Capacity is reached.
type SeenSignatureStore struct {
	mu       sync.Mutex
	expiry   map[string]time.Time
	order    []string
	head     int
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// NewSeenSignatureStore creates a dedup set. Zero options take defaults.
func NewSeenSignatureStore(opts storage.SeenOptions) *SeenSignatureStore {
	if opts.TTL <= 0 {
		opts.TTL = DefaultSeenTTL
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultSeenCapacity
	}
	return &SeenSignatureStore{
		expiry:   make(map[string]time.Time),
		ttl:      opts.TTL,
		capacity: opts.Capacity,
		now:      time.Now,
	}
}

var _ storage.SeenSignatureStore = (*SeenSignatureStore)(nil)

// MarkSeen records signature and reports whether it was new.
func (s *SeenSignatureStore) MarkSeen(_ context.Context, signature string) (bool, error) {
	if signature == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.expiry[signature]; ok && now.Before(exp) {
		return false, nil
	}

	s.evict(now)
	s.expiry[signature] = now.Add(s.ttl)
	s.order = append(s.order, signature)
	return true, nil
}

// Forget removes signature.
func (s *SeenSignatureStore) Forget(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expiry, signature)
	return nil
}

// Len returns the number of remembered signatures.
func (s *SeenSignatureStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expiry)
}

// evict drops expired and over-capacity entries from the front of the
// insertion order. Must hold mu.
func (s *SeenSignatureStore) evict(now time.Time) {
	for s.head < len(s.order) {
		sig := s.order[s.head]
		exp, ok := s.expiry[sig]
		switch {
		case !ok:
			// forgotten or already replaced
		case len(s.expiry) >= s.capacity || !now.Before(exp):
			delete(s.expiry, sig)
		default:
			s.compact()
			return
		}
		s.head++
	}
	s.compact()
}

func (s *SeenSignatureStore) compact() {
	if s.head > len(s.order)/2 {
		s.order = append([]string(nil), s.order[s.head:]...)
		s.head = 0
	}
}
