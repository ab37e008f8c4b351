// Package redis implements processed-signature dedup on Redis so several
// copy-trader instances share one seen set.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/storage"
)

// DefaultSeenTTL is how long a processed signature is remembered.
const DefaultSeenTTL = 24 * time.Hour

const keyPrefix = "copytrade:seen:"

// NewClient connects and pings.
func NewClient(ctx context.Context, addr, password string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// SeenSignatureStore marks signatures with SET NX and a TTL.
type SeenSignatureStore struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewSeenSignatureStore creates a store on rdb.
func NewSeenSignatureStore(rdb *goredis.Client, opts storage.SeenOptions) *SeenSignatureStore {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	return &SeenSignatureStore{rdb: rdb, ttl: ttl}
}

var _ storage.SeenSignatureStore = (*SeenSignatureStore)(nil)

// MarkSeen reports whether signature was not yet marked.
func (s *SeenSignatureStore) MarkSeen(ctx context.Context, signature string) (bool, error) {
	if signature == "" {
		return false, storage.ErrInvalidInput
	}
	start := time.Now()
	ok, err := s.rdb.SetNX(ctx, keyPrefix+signature, start.UnixMilli(), s.ttl).Result()
	observability.RecordDBQuery("redis", "mark_seen", time.Since(start).Seconds(), err)
	if err != nil {
		return false, fmt.Errorf("redis: mark seen: %w", err)
	}
	return ok, nil
}

// Forget deletes signature.
func (s *SeenSignatureStore) Forget(ctx context.Context, signature string) error {
	start := time.Now()
	err := s.rdb.Del(ctx, keyPrefix+signature).Err()
	observability.RecordDBQuery("redis", "forget_seen", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("redis: forget: %w", err)
	}
	return nil
}
