package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"solana-copy-trader/internal/observability"
)

// Client defaults.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
	DefaultMaxDelay   = 10 * time.Second
	DefaultCommitment = "confirmed"
)

// ErrRateLimited is the final error when the node kept answering 429.
var ErrRateLimited = errors.New("rpc: rate limited (429)")

// backoff doubles from base up to ceiling between attempts.
type backoff struct {
	retries int
	base    time.Duration
	ceiling time.Duration
}

func (b backoff) delay(attempt int) time.Duration {
	d := b.base
	for i := 1; i < attempt && d < b.ceiling; i++ {
		d *= 2
	}
	return min(d, b.ceiling)
}

// HTTPClient is the JSON-RPC 2.0 node client.
type HTTPClient struct {
	endpoint   string
	http       *http.Client
	retry      backoff
	commitment string
	limiter    *rate.Limiter // nil when unthrottled
	nextID     atomic.Uint64
}

// ClientOption configures NewHTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.http.Timeout = d }
}

// WithMaxRetries sets attempts after the first; 0 sends once.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) { c.retry.retries = max(n, 0) }
}

// WithRetryDelay sets the first backoff step.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.retry.base = d }
}

// WithMaxDelay caps the backoff.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.retry.ceiling = d }
}

// WithHTTPClient replaces the transport client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) { c.http = hc }
}

// WithCommitment sets the commitment of reads.
func WithCommitment(commitment string) ClientOption {
	return func(c *HTTPClient) {
		if commitment != "" {
			c.commitment = commitment
		}
	}
}

// WithRateLimit caps calls per second with a burst of one second's worth.
// Non-positive rps disables the limit.
func WithRateLimit(rps float64) ClientOption {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

// NewHTTPClient creates a client for endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:   endpoint,
		http:       &http.Client{Timeout: DefaultTimeout},
		retry:      backoff{retries: DefaultMaxRetries, base: DefaultRetryDelay, ceiling: DefaultMaxDelay},
		commitment: DefaultCommitment,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the node URL.
func (c *HTTPClient) Endpoint() string { return c.endpoint }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// transientError marks an attempt worth repeating.
type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Call sends one JSON-RPC request and decodes result into out. Transport
// failures, 429 and non-200 answers are retried with backoff; an RPC error
// object is returned as *RPCError at once.
func (c *HTTPClient) Call(ctx context.Context, method string, params []any, out any) error {
	start := time.Now()
	defer func() { observability.RecordRPCLatency(method, time.Since(start).Seconds()) }()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("rpc: encode %s: %w", method, err)
	}

	var last error
	for attempt := 0; attempt <= c.retry.retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(c.retry.delay(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		raw, err := c.post(ctx, body)
		var transient transientError
		if errors.As(err, &transient) {
			last = transient.err
			continue
		}
		if err != nil {
			return err
		}
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("rpc: decode %s result: %w", method, err)
			}
		}
		return nil
	}

	if c.retry.retries == 0 {
		return last
	}
	return fmt.Errorf("rpc: %s failed after %d attempts: %w", method, c.retry.retries+1, last)
}

// post performs one attempt and returns the raw result.
func (c *HTTPClient) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transientError{fmt.Errorf("rpc: http: %w", err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	switch {
	case err != nil:
		return nil, transientError{fmt.Errorf("rpc: read body: %w", err)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, transientError{ErrRateLimited}
	case resp.StatusCode != http.StatusOK:
		return nil, transientError{fmt.Errorf("rpc: status %d: %s", resp.StatusCode, bytes.TrimSpace(payload))}
	}

	var r rpcResponse
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, transientError{fmt.Errorf("rpc: decode response: %w", err)}
	}
	if r.Error != nil {
		return nil, r.Error
	}
	return r.Result, nil
}

// GetTransaction retrieves a transaction by signature in base64 encoding.
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string) (*RawTransaction, error) {
	params := []any{
		signature,
		map[string]any{
			"encoding":                       "base64",
			"commitment":                     c.commitment,
			"maxSupportedTransactionVersion": 0,
		},
	}

	var result *getTransactionResult
	if err := c.Call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	if result == nil || len(result.Transaction) == 0 {
		return nil, nil
	}

	data, err := decodeBase64Pair(result.Transaction)
	if err != nil {
		return nil, fmt.Errorf("transaction data: %w", err)
	}

	tx := &RawTransaction{
		Slot:      result.Slot,
		Signature: signature,
		Data:      data,
	}
	if result.BlockTime != nil {
		tx.BlockTime = *result.BlockTime
	}
	if m := result.Meta; m != nil {
		tx.Failed = m.Err != nil
		if m.LoadedAddresses != nil {
			tx.LoadedWritable = m.LoadedAddresses.Writable
			tx.LoadedReadonly = m.LoadedAddresses.Readonly
		}
		seen := make(map[int]struct{}, len(m.PreTokenBalances)+len(m.PostTokenBalances))
		for _, list := range [][]tokenBalanceJSON{m.PreTokenBalances, m.PostTokenBalances} {
			for _, tb := range list {
				if _, ok := seen[tb.AccountIndex]; ok {
					continue
				}
				seen[tb.AccountIndex] = struct{}{}
				tx.TokenBalances = append(tx.TokenBalances, TokenBalance{
					AccountIndex: tb.AccountIndex,
					Mint:         tb.Mint,
					Owner:        tb.Owner,
				})
			}
		}
	}

	return tx, nil
}

// getTransactionResult is the raw RPC response for getTransaction.
type getTransactionResult struct {
	Slot        uint64              `json:"slot"`
	BlockTime   *int64              `json:"blockTime"`
	Meta        *getTransactionMeta `json:"meta"`
	Transaction []string            `json:"transaction"` // [base64_data, encoding]
}

type getTransactionMeta struct {
	Err               any       `json:"err"`
	LoadedAddresses   *loadedAddresses  `json:"loadedAddresses"`
	PreTokenBalances  []tokenBalanceJSON `json:"preTokenBalances"`
	PostTokenBalances []tokenBalanceJSON `json:"postTokenBalances"`
}

type loadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

type tokenBalanceJSON struct {
	AccountIndex int    `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner"`
}

// GetMultipleAccounts reads up to 100 accounts at one slot.
func (c *HTTPClient) GetMultipleAccounts(ctx context.Context, pubkeys []string) (*AccountsResult, error) {
	params := []any{
		pubkeys,
		map[string]any{
			"encoding":   "base64",
			"commitment": c.commitment,
		},
	}

	var result struct {
		Context rpcContext      `json:"context"`
		Value   []*accountValue `json:"value"`
	}
	if err := c.Call(ctx, "getMultipleAccounts", params, &result); err != nil {
		return nil, err
	}
	if len(result.Value) != len(pubkeys) {
		return nil, fmt.Errorf("getMultipleAccounts: asked for %d accounts, got %d", len(pubkeys), len(result.Value))
	}

	out := &AccountsResult{Slot: result.Context.Slot, Accounts: make([]*AccountInfo, len(pubkeys))}
	for i, v := range result.Value {
		if v == nil {
			continue
		}
		info, err := v.toAccountInfo()
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", pubkeys[i], err)
		}
		out.Accounts[i] = info
	}
	return out, nil
}

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type accountValue struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"` // [base64_data, encoding]
	Executable bool     `json:"executable"`
	RentEpoch  uint64   `json:"rentEpoch"`
}

func (v *accountValue) toAccountInfo() (*AccountInfo, error) {
	info := &AccountInfo{
		Lamports:   v.Lamports,
		Owner:      v.Owner,
		Executable: v.Executable,
		RentEpoch:  v.RentEpoch,
	}
	if len(v.Data) > 0 {
		data, err := decodeBase64Pair(v.Data)
		if err != nil {
			return nil, fmt.Errorf("account data: %w", err)
		}
		info.Data = data
	}
	return info, nil
}

func decodeBase64Pair(pair []string) ([]byte, error) {
	if len(pair) == 0 {
		return nil, fmt.Errorf("empty data")
	}
	if len(pair) > 1 && pair[1] != "base64" {
		return nil, fmt.Errorf("unexpected encoding %q", pair[1])
	}
	return base64.StdEncoding.DecodeString(pair[0])
}

// GetLatestBlockhash returns a recent blockhash.
func (c *HTTPClient) GetLatestBlockhash(ctx context.Context) (*BlockhashResult, error) {
	params := []any{
		map[string]any{"commitment": c.commitment},
	}

	var result struct {
		Context rpcContext `json:"context"`
		Value   struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := c.Call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return nil, err
	}
	if result.Value.Blockhash == "" {
		return nil, fmt.Errorf("getLatestBlockhash: empty blockhash")
	}
	return &BlockhashResult{
		Blockhash:            result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
		Slot:                 result.Context.Slot,
	}, nil
}

// GetSignatureStatuses returns statuses in request order; unknown
// signatures are nil.
func (c *HTTPClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	params := []any{
		signatures,
		map[string]any{"searchTransactionHistory": false},
	}

	var result struct {
		Value []*struct {
			Slot               uint64      `json:"slot"`
			ConfirmationStatus string      `json:"confirmationStatus"`
			Err                any `json:"err"`
		} `json:"value"`
	}
	if err := c.Call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}

	out := make([]*SignatureStatus, len(signatures))
	for i, v := range result.Value {
		if i >= len(out) || v == nil {
			continue
		}
		out[i] = &SignatureStatus{Slot: v.Slot, ConfirmationStatus: v.ConfirmationStatus, Err: v.Err}
	}
	return out, nil
}

// GetBalance returns the lamport balance of an account.
func (c *HTTPClient) GetBalance(ctx context.Context, pubkey string) (*BalanceResult, error) {
	params := []any{
		pubkey,
		map[string]any{"commitment": c.commitment},
	}

	var result struct {
		Context rpcContext `json:"context"`
		Value   uint64     `json:"value"`
	}
	if err := c.Call(ctx, "getBalance", params, &result); err != nil {
		return nil, err
	}
	return &BalanceResult{Lamports: result.Value, Slot: result.Context.Slot}, nil
}

// GetSlot retrieves the current slot.
func (c *HTTPClient) GetSlot(ctx context.Context) (int64, error) {
	var result int64
	if err := c.Call(ctx, "getSlot", nil, &result); err != nil {
		return 0, err
	}
	return result, nil
}
