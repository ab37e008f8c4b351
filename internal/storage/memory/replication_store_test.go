package memory

import (
	"context"
	"errors"
	"testing"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/storage"
)

func replication(id, sig string, idx int, detectedAt int64) *domain.Replication {
	return &domain.Replication{
		ReplicationID:   id,
		SourceSignature: sig,
		InstructionIdx:  idx,
		EventCount:      1,
		Mint:            "mint1",
		Venue:           domain.VenuePumpFun,
		Direction:       "buy",
		TargetAmount:    1_000_000,
		ReplicaAmount:   500_000,
		Stage:           domain.StageSubmission,
		Outcome:         string(domain.OutcomeConfirmed),
		DetectedAt:      detectedAt,
		ResolvedAt:      detectedAt + 400,
	}
}

func TestReplicationStore_InsertAndGet(t *testing.T) {
	store := NewReplicationStore()
	ctx := context.Background()

	r := replication("r1", "sig1", 0, 1000)
	if err := store.Insert(ctx, r); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "r1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.ReplicaAmount != 500_000 || got.Outcome != "confirmed" {
		t.Errorf("unexpected record: %+v", got)
	}

	// Returned records are copies.
	got.Outcome = "mutated"
	again, _ := store.GetByID(ctx, "r1")
	if again.Outcome != "confirmed" {
		t.Errorf("store was mutated through a returned record")
	}

	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReplicationStore_DuplicateAndInvalid(t *testing.T) {
	store := NewReplicationStore()
	ctx := context.Background()

	if err := store.Insert(ctx, replication("r1", "sig1", 0, 1000)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, replication("r1", "sig1", 0, 1000)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	if err := store.Insert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil, got %v", err)
	}
	if err := store.Insert(ctx, replication("", "sig1", 0, 1000)); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty id, got %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 record, got %d", store.Len())
	}
}

func TestReplicationStore_Queries(t *testing.T) {
	store := NewReplicationStore()
	ctx := context.Background()

	for _, r := range []*domain.Replication{
		replication("b", "sig1", 3, 2000),
		replication("a", "sig1", 1, 1000),
		replication("c", "sig2", 0, 3000),
	} {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	bySig, err := store.GetBySourceSignature(ctx, "sig1")
	if err != nil {
		t.Fatalf("GetBySourceSignature failed: %v", err)
	}
	if len(bySig) != 2 || bySig[0].ReplicationID != "a" || bySig[1].ReplicationID != "b" {
		t.Errorf("expected [a b] by instruction index, got %v", ids(bySig))
	}

	ranged, err := store.GetByTimeRange(ctx, 1000, 3000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(ranged) != 2 || ranged[0].ReplicationID != "a" || ranged[1].ReplicationID != "b" {
		t.Errorf("expected [a b] in [1000, 3000), got %v", ids(ranged))
	}
}

func ids(rs []*domain.Replication) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ReplicationID
	}
	return out
}
