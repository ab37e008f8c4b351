// Package storage defines persistence for replication journals, processed
// signature dedup and submission analytics.
package storage

import (
	"context"
	"time"

	"solana-copy-trader/internal/domain"
)

// ReplicationStore is the append-only replication journal.
type ReplicationStore interface {
	// Insert adds a record. Returns ErrDuplicateKey if replication_id exists.
	Insert(ctx context.Context, r *domain.Replication) error

	// GetByID returns ErrNotFound if the record does not exist.
	GetByID(ctx context.Context, replicationID string) (*domain.Replication, error)

	// GetBySourceSignature returns every replication of one target
	// transaction, ordered by instruction index.
	GetBySourceSignature(ctx context.Context, signature string) ([]*domain.Replication, error)

	// GetByTimeRange returns records detected within [start, end) unix ms,
	// ordered by detected_at.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Replication, error)
}

// SeenSignatureStore remembers processed target signatures so a replayed
// update is never replicated twice.
type SeenSignatureStore interface {
	// MarkSeen records signature and reports whether this call was the first.
	MarkSeen(ctx context.Context, signature string) (bool, error)

	// Forget removes signature so a later update is processed again. Used
	// when processing aborted before anything was sent.
	Forget(ctx context.Context, signature string) error
}

// SubmissionAnalyticsStore receives one row per resolved replication.
type SubmissionAnalyticsStore interface {
	Record(ctx context.Context, r *domain.Replication) error
}

// SeenOptions tunes dedup retention.
type SeenOptions struct {
	TTL      time.Duration
	Capacity int
}
