// Package bundle submits signed transactions to a block-engine relay and
// tracks them until they confirm, drop or fail.
package bundle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"solana-copy-trader/internal/observability"
	rpc "solana-copy-trader/internal/solana"
)

// ErrRelayRejected means the relay refused the bundle. It is never resent.
var ErrRelayRejected = errors.New("relay rejected bundle")

// Inflight bundle states reported by the relay.
const (
	BundleInvalid = "Invalid"
	BundlePending = "Pending"
	BundleFailed  = "Failed"
	BundleLanded  = "Landed"
)

// BundleStatus is the relay's view of one bundle.
type BundleStatus struct {
	BundleID   string `json:"bundle_id"`
	Status     string `json:"status"`
	LandedSlot uint64 `json:"landed_slot"`
}

// Relay is the block-engine API used by the Submitter.
type Relay interface {
	TipAccounts(ctx context.Context) ([]solana.PublicKey, error)
	// SendBundle sends txs once. Rejections wrap ErrRelayRejected.
	SendBundle(ctx context.Context, txs [][]byte) (string, error)
	BundleStatuses(ctx context.Context, ids []string) ([]*BundleStatus, error)
}

// Default relay settings.
const (
	DefaultRelayRPS      = 5
	DefaultTipAccountTTL = 10 * time.Minute
)

// JitoOptions configures JitoClient.
type JitoOptions struct {
	// RequestsPerSecond is shared by all methods.
	RequestsPerSecond float64
	// TipAccountTTL bounds how long a fetched tip account list is reused.
	TipAccountTTL time.Duration
	Timeout       time.Duration
	Logger        logrus.FieldLogger
}

// JitoClient speaks the block-engine JSON-RPC bundle API. Sends go out
// exactly once; status and tip account queries retry.
type JitoClient struct {
	send    *rpc.HTTPClient
	query   *rpc.HTTPClient
	limiter *rate.Limiter
	ttl     time.Duration
	logger  logrus.FieldLogger

	mu        sync.Mutex
	tips      []solana.PublicKey
	tipsUntil time.Time
}

// NewJitoClient creates a client for the bundles endpoint.
func NewJitoClient(endpoint string, opts JitoOptions) *JitoClient {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRelayRPS
	}
	if opts.TipAccountTTL <= 0 {
		opts.TipAccountTTL = DefaultTipAccountTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &JitoClient{
		send: rpc.NewHTTPClient(endpoint, rpc.WithMaxRetries(0), rpc.WithTimeout(opts.Timeout)),
		query: rpc.NewHTTPClient(endpoint,
			rpc.WithMaxRetries(2),
			rpc.WithRetryDelay(100*time.Millisecond),
			rpc.WithMaxDelay(time.Second),
			rpc.WithTimeout(opts.Timeout)),
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), int(opts.RequestsPerSecond)+1),
		ttl:     opts.TipAccountTTL,
		logger:  opts.Logger.WithField("component", "relay"),
	}
}

func (c *JitoClient) call(ctx context.Context, client *rpc.HTTPClient, method string, params []interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	err := client.Call(ctx, method, params, result)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordRelayRequest(method, status)
	return err
}

// TipAccounts returns the relay's tip accounts, cached for the TTL.
func (c *JitoClient) TipAccounts(ctx context.Context) ([]solana.PublicKey, error) {
	c.mu.Lock()
	if len(c.tips) > 0 && time.Now().Before(c.tipsUntil) {
		tips := c.tips
		c.mu.Unlock()
		return tips, nil
	}
	c.mu.Unlock()

	var raw []string
	if err := c.call(ctx, c.query, "getTipAccounts", nil, &raw); err != nil {
		return nil, fmt.Errorf("get tip accounts: %w", err)
	}
	tips := make([]solana.PublicKey, 0, len(raw))
	for _, s := range raw {
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("tip account %q: %w", s, err)
		}
		tips = append(tips, pk)
	}
	if len(tips) == 0 {
		return nil, fmt.Errorf("get tip accounts: relay returned none")
	}

	c.mu.Lock()
	c.tips = tips
	c.tipsUntil = time.Now().Add(c.ttl)
	c.mu.Unlock()
	return tips, nil
}

// SendBundle submits txs as one bundle and returns the bundle id.
// JSON-RPC errors and non-transport HTTP failures wrap ErrRelayRejected.
// Transport errors are returned unwrapped since the relay may have
// received the bundle.
func (c *JitoClient) SendBundle(ctx context.Context, txs [][]byte) (string, error) {
	encoded := make([]string, len(txs))
	for i, tx := range txs {
		encoded[i] = base64.StdEncoding.EncodeToString(tx)
	}
	params := []interface{}{encoded, map[string]string{"encoding": "base64"}}

	var id string
	err := c.call(ctx, c.send, "sendBundle", params, &id)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) || ctx.Err() != nil {
			return "", fmt.Errorf("send bundle: %w", err)
		}
		return "", fmt.Errorf("%w: %v", ErrRelayRejected, err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: empty bundle id", ErrRelayRejected)
	}
	return id, nil
}

type inflightResult struct {
	Value []*BundleStatus `json:"value"`
}

// BundleStatuses returns inflight statuses aligned with ids. Unknown
// bundles are reported as Invalid.
func (c *JitoClient) BundleStatuses(ctx context.Context, ids []string) ([]*BundleStatus, error) {
	var res inflightResult
	if err := c.call(ctx, c.query, "getInflightBundleStatuses", []interface{}{ids}, &res); err != nil {
		return nil, fmt.Errorf("get inflight bundle statuses: %w", err)
	}
	byID := make(map[string]*BundleStatus, len(res.Value))
	for _, st := range res.Value {
		if st != nil {
			byID[st.BundleID] = st
		}
	}
	out := make([]*BundleStatus, len(ids))
	for i, id := range ids {
		if st, ok := byID[id]; ok {
			out[i] = st
		} else {
			out[i] = &BundleStatus{BundleID: id, Status: BundleInvalid}
		}
	}
	return out, nil
}
