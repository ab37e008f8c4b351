package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/storage"
)

// SubmissionStore implements storage.SubmissionAnalyticsStore.
type SubmissionStore struct {
	conn *Conn
}

// NewSubmissionStore creates a new SubmissionStore.
func NewSubmissionStore(conn *Conn) *SubmissionStore {
	return &SubmissionStore{conn: conn}
}

var _ storage.SubmissionAnalyticsStore = (*SubmissionStore)(nil)

const insertSubmission = `
	INSERT INTO submissions (
		replication_id, source_signature, mint, venue, direction,
		stage, outcome, reason, truncated_events, truncated_reason,
		target_amount, replica_amount, expected_out,
		observed_slot, confirmed_slot,
		detected_at_ms, resolved_at_ms, latency_ms
	)`

// Record writes one row.
func (s *SubmissionStore) Record(ctx context.Context, r *domain.Replication) error {
	if r == nil || r.ReplicationID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	err := s.conn.Exec(ctx, insertSubmission+` VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		submissionRow(r)...,
	)
	observe("insert_submission", start, err)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// RecordBatch writes rows in one native batch.
func (s *SubmissionStore) RecordBatch(ctx context.Context, rs []*domain.Replication) error {
	if len(rs) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, insertSubmission)
	if err != nil {
		return fmt.Errorf("prepare submission batch: %w", err)
	}
	for _, r := range rs {
		if r == nil || r.ReplicationID == "" {
			_ = batch.Abort()
			return storage.ErrInvalidInput
		}
		if err := batch.Append(submissionRow(r)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append submission: %w", err)
		}
	}
	start := time.Now()
	err = batch.Send()
	observe("send_submission_batch", start, err)
	if err != nil {
		return fmt.Errorf("send submission batch: %w", err)
	}
	return nil
}

// CountByOutcome returns row counts per outcome for venue. An empty venue
// counts every venue.
func (s *SubmissionStore) CountByOutcome(ctx context.Context, venue domain.Venue) (map[string]uint64, error) {
	query := `SELECT outcome, count() FROM submissions FINAL`
	var args []any
	if venue != "" {
		query += ` WHERE venue = ?`
		args = append(args, string(venue))
	}
	query += ` GROUP BY outcome`

	start := time.Now()
	rows, err := s.conn.Query(ctx, query, args...)
	observe("count_submissions", start, err)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var (
			outcome string
			n       uint64
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan submission count: %w", err)
		}
		out[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission counts: %w", err)
	}
	return out, nil
}

func submissionRow(r *domain.Replication) []any {
	var confirmed *uint64
	if r.ConfirmedSlot != nil {
		v := uint64(*r.ConfirmedSlot)
		confirmed = &v
	}
	var latency int64
	if r.SubmittedAt != nil {
		latency = r.ResolvedAt - *r.SubmittedAt
	}
	return []any{
		r.ReplicationID, r.SourceSignature, r.Mint, string(r.Venue), r.Direction,
		r.Stage, r.Outcome, r.Reason, uint32(r.TruncatedEvents), r.TruncatedReason,
		r.TargetAmount, r.ReplicaAmount, r.ExpectedOut,
		uint64(r.ObservedSlot), confirmed,
		r.DetectedAt, r.ResolvedAt, latency,
	}
}
