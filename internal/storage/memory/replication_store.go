// Package memory provides in-memory storage backends for tests and
// single-process runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/storage"
)

// ReplicationStore is an in-memory implementation of storage.ReplicationStore.
type ReplicationStore struct {
	mu    sync.RWMutex
	data  []*domain.Replication
	byID  map[string]*domain.Replication
	bySig map[string][]*domain.Replication
}

// NewReplicationStore creates an empty journal.
func NewReplicationStore() *ReplicationStore {
	return &ReplicationStore{
		byID:  make(map[string]*domain.Replication),
		bySig: make(map[string][]*domain.Replication),
	}
}

var _ storage.ReplicationStore = (*ReplicationStore)(nil)

// Insert adds a record. Returns ErrDuplicateKey if replication_id exists.
func (s *ReplicationStore) Insert(_ context.Context, r *domain.Replication) error {
	if r == nil || r.ReplicationID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[r.ReplicationID]; ok {
		return storage.ErrDuplicateKey
	}

	stored := *r
	s.data = append(s.data, &stored)
	s.byID[r.ReplicationID] = &stored
	s.bySig[r.SourceSignature] = append(s.bySig[r.SourceSignature], &stored)
	return nil
}

// GetByID returns ErrNotFound if the record does not exist.
func (s *ReplicationStore) GetByID(_ context.Context, id string) (*domain.Replication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *r
	return &out, nil
}

// GetBySourceSignature returns the replications of one target transaction.
func (s *ReplicationStore) GetBySourceSignature(_ context.Context, signature string) ([]*domain.Replication, error) {
	s.mu.RLock()
	out := copyAll(s.bySig[signature])
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].InstructionIdx < out[j].InstructionIdx
	})
	return out, nil
}

// GetByTimeRange returns records detected within [start, end).
func (s *ReplicationStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.Replication, error) {
	s.mu.RLock()
	var out []*domain.Replication
	for _, r := range s.data {
		if r.DetectedAt >= start && r.DetectedAt < end {
			c := *r
			out = append(out, &c)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DetectedAt != out[j].DetectedAt {
			return out[i].DetectedAt < out[j].DetectedAt
		}
		return out[i].ReplicationID < out[j].ReplicationID
	})
	return out, nil
}

// Len returns the number of stored records.
func (s *ReplicationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func copyAll(in []*domain.Replication) []*domain.Replication {
	out := make([]*domain.Replication, len(in))
	for i, r := range in {
		c := *r
		out[i] = &c
	}
	return out
}
