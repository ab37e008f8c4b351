package postgres

import (
	"context"
	"fmt"
	"time"

	"solana-copy-trader/internal/storage"
)

// DefaultSeenTTL is how long a processed signature is remembered.
const DefaultSeenTTL = 24 * time.Hour

// SeenSignatureStore implements storage.SeenSignatureStore on the
// seen_signatures table. Expired rows are replaced in place.
type SeenSignatureStore struct {
	pool *Pool
	ttl  time.Duration
}

// NewSeenSignatureStore creates a new SeenSignatureStore.
func NewSeenSignatureStore(pool *Pool, opts storage.SeenOptions) *SeenSignatureStore {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	return &SeenSignatureStore{pool: pool, ttl: ttl}
}

var _ storage.SeenSignatureStore = (*SeenSignatureStore)(nil)

// MarkSeen inserts signature, or revives an expired row, and reports whether
// it was new.
func (s *SeenSignatureStore) MarkSeen(ctx context.Context, signature string) (bool, error) {
	if signature == "" {
		return false, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO seen_signatures (signature, seen_at, expires_at)
		VALUES ($1, now(), now() + make_interval(secs => $2))
		ON CONFLICT (signature) DO UPDATE
			SET seen_at = EXCLUDED.seen_at, expires_at = EXCLUDED.expires_at
			WHERE seen_signatures.expires_at <= now()
		RETURNING signature
	`

	var got string
	start := time.Now()
	err := s.pool.QueryRow(ctx, query, signature, s.ttl.Seconds()).Scan(&got)
	observe("mark_seen", start, err)
	if err != nil {
		if noRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("mark signature seen: %w", err)
	}
	return true, nil
}

// Forget deletes signature.
func (s *SeenSignatureStore) Forget(ctx context.Context, signature string) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `DELETE FROM seen_signatures WHERE signature = $1`, signature)
	observe("forget_seen", start, err)
	if err != nil {
		return fmt.Errorf("forget signature: %w", err)
	}
	return nil
}

// Prune deletes expired rows and returns how many were removed.
func (s *SeenSignatureStore) Prune(ctx context.Context) (int64, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM seen_signatures WHERE expires_at <= now()`)
	observe("prune_seen", start, err)
	if err != nil {
		return 0, fmt.Errorf("prune seen signatures: %w", err)
	}
	return tag.RowsAffected(), nil
}
