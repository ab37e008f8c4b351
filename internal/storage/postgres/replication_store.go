package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/storage"
)

// ReplicationStore implements storage.ReplicationStore using PostgreSQL.
type ReplicationStore struct {
	pool *Pool
}

// NewReplicationStore creates a new ReplicationStore.
func NewReplicationStore(pool *Pool) *ReplicationStore {
	return &ReplicationStore{pool: pool}
}

var _ storage.ReplicationStore = (*ReplicationStore)(nil)

const replicationColumns = `
	replication_id, source_signature, instruction_idx, event_count,
	mint, venue, direction, truncated_events, truncated_reason,
	target_amount, replica_amount, expected_out,
	observed_slot, state_slot, confirmed_slot,
	stage, outcome, reason, replica_signature, bundle_id,
	detected_at, submitted_at, resolved_at`

// Insert adds a record. Returns ErrDuplicateKey if replication_id exists.
func (s *ReplicationStore) Insert(ctx context.Context, r *domain.Replication) error {
	if r == nil || r.ReplicationID == "" {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO replications (` + replicationColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		r.ReplicationID, r.SourceSignature, r.InstructionIdx, r.EventCount,
		r.Mint, string(r.Venue), r.Direction, r.TruncatedEvents, r.TruncatedReason,
		int64(r.TargetAmount), int64(r.ReplicaAmount), int64(r.ExpectedOut),
		r.ObservedSlot, r.StateSlot, r.ConfirmedSlot,
		r.Stage, r.Outcome, r.Reason, r.ReplicaSignature, r.BundleID,
		r.DetectedAt, r.SubmittedAt, r.ResolvedAt,
	)
	observe("insert_replication", start, err)
	if err != nil {
		if uniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert replication: %w", err)
	}
	return nil
}

// GetByID returns ErrNotFound if the record does not exist.
func (s *ReplicationStore) GetByID(ctx context.Context, id string) (*domain.Replication, error) {
	query := `SELECT ` + replicationColumns + ` FROM replications WHERE replication_id = $1`

	start := time.Now()
	r, err := scanReplication(s.pool.QueryRow(ctx, query, id))
	observe("get_replication", start, err)
	if err != nil {
		if noRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get replication: %w", err)
	}
	return r, nil
}

// GetBySourceSignature returns every replication of one target transaction.
func (s *ReplicationStore) GetBySourceSignature(ctx context.Context, signature string) ([]*domain.Replication, error) {
	query := `SELECT ` + replicationColumns + `
		FROM replications
		WHERE source_signature = $1
		ORDER BY instruction_idx ASC`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, signature)
	if err != nil {
		observe("replications_by_signature", start, err)
		return nil, fmt.Errorf("get replications by signature: %w", err)
	}
	defer rows.Close()
	out, err := scanReplications(rows)
	observe("replications_by_signature", start, err)
	return out, err
}

// GetByTimeRange returns records detected within [start, end).
func (s *ReplicationStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Replication, error) {
	query := `SELECT ` + replicationColumns + `
		FROM replications
		WHERE detected_at >= $1 AND detected_at < $2
		ORDER BY detected_at ASC, replication_id ASC`

	began := time.Now()
	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		observe("replications_by_time", began, err)
		return nil, fmt.Errorf("get replications by time range: %w", err)
	}
	defer rows.Close()
	out, err := scanReplications(rows)
	observe("replications_by_time", began, err)
	return out, err
}

func scanReplication(row pgx.Row) (*domain.Replication, error) {
	var (
		r                         domain.Replication
		venue                     string
		target, replica, expected int64
	)
	err := row.Scan(
		&r.ReplicationID, &r.SourceSignature, &r.InstructionIdx, &r.EventCount,
		&r.Mint, &venue, &r.Direction, &r.TruncatedEvents, &r.TruncatedReason,
		&target, &replica, &expected,
		&r.ObservedSlot, &r.StateSlot, &r.ConfirmedSlot,
		&r.Stage, &r.Outcome, &r.Reason, &r.ReplicaSignature, &r.BundleID,
		&r.DetectedAt, &r.SubmittedAt, &r.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Venue = domain.Venue(venue)
	r.TargetAmount = uint64(target)
	r.ReplicaAmount = uint64(replica)
	r.ExpectedOut = uint64(expected)
	return &r, nil
}

func scanReplications(rows pgx.Rows) ([]*domain.Replication, error) {
	var out []*domain.Replication
	for rows.Next() {
		r, err := scanReplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan replication row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replication rows: %w", err)
	}
	return out, nil
}
