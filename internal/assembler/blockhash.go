package assembler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	rpc "solana-copy-trader/internal/solana"
)

// DefaultRefreshAfter is how long a cached blockhash is served before a
// read triggers a refetch.
const DefaultRefreshAfter = 5 * time.Second

// BlockhashSource fetches the latest blockhash.
type BlockhashSource interface {
	GetLatestBlockhash(ctx context.Context) (*rpc.BlockhashResult, error)
}

// Blockhash is a recent blockhash and when it was fetched.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
	Slot                 uint64
	FetchedAt            time.Time
}

// BlockhashCache serves a recent blockhash to concurrent assemblers.
// Concurrent refetches collapse into one RPC call.
type BlockhashCache struct {
	source       BlockhashSource
	refreshAfter time.Duration
	logger       logrus.FieldLogger
	now          func() time.Time

	group   singleflight.Group
	mu      sync.RWMutex
	current *Blockhash
}

// NewBlockhashCache creates a cache over source.
func NewBlockhashCache(source BlockhashSource, refreshAfter time.Duration, logger logrus.FieldLogger) *BlockhashCache {
	if refreshAfter <= 0 {
		refreshAfter = DefaultRefreshAfter
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BlockhashCache{
		source:       source,
		refreshAfter: refreshAfter,
		logger:       logger.WithField("component", "blockhash"),
		now:          time.Now,
	}
}

// Get returns the cached blockhash, refetching once it is older than the
// refresh interval. When the refetch fails an older cached value is
// returned; callers check its age.
func (c *BlockhashCache) Get(ctx context.Context) (Blockhash, error) {
	c.mu.RLock()
	cur := c.current
	c.mu.RUnlock()
	if cur != nil && c.now().Sub(cur.FetchedAt) < c.refreshAfter {
		return *cur, nil
	}

	bh, err := c.Refresh(ctx)
	if err != nil && cur != nil {
		c.logger.WithError(err).Warn("blockhash refresh failed, serving cached value")
		return *cur, nil
	}
	return bh, err
}

// Refresh fetches a new blockhash regardless of the cached age.
func (c *BlockhashCache) Refresh(ctx context.Context) (Blockhash, error) {
	v, err, _ := c.group.Do("latest", func() (interface{}, error) {
		res, err := c.source.GetLatestBlockhash(ctx)
		if err != nil {
			return nil, err
		}
		hash, err := solana.HashFromBase58(res.Blockhash)
		if err != nil {
			return nil, fmt.Errorf("parse blockhash %q: %w", res.Blockhash, err)
		}
		bh := &Blockhash{
			Hash:                 hash,
			LastValidBlockHeight: res.LastValidBlockHeight,
			Slot:                 res.Slot,
			FetchedAt:            c.now(),
		}
		c.mu.Lock()
		c.current = bh
		c.mu.Unlock()
		return bh, nil
	})
	if err != nil {
		return Blockhash{}, fmt.Errorf("fetch blockhash: %w", err)
	}
	return *v.(*Blockhash), nil
}

// Run refreshes the cache every interval until ctx is done.
func (c *BlockhashCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.refreshAfter
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.logger.WithError(err).Warn("periodic blockhash refresh failed")
			}
		}
	}
}
