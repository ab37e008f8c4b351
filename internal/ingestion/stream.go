// Package ingestion turns the node's logs subscription for the target
// wallet into wire.RawUpdates.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"solana-copy-trader/internal/observability"
	rpc "solana-copy-trader/internal/solana"
	"solana-copy-trader/internal/wire"
)

// Stream delivers transaction updates. The channel closes when ctx is done
// or the underlying subscription ends.
type Stream interface {
	Subscribe(ctx context.Context) (<-chan *wire.RawUpdate, error)
}

// TxFetcher is the subset of the node RPC used to load notified transactions.
type TxFetcher interface {
	GetTransaction(ctx context.Context, signature string) (*rpc.RawTransaction, error)
}

// Defaults for WSStream.
const (
	DefaultFetchRetries = 3
	DefaultRetryDelay   = 150 * time.Millisecond
	DefaultBufferSize   = 256
)

// errNotYetAvailable is returned while the node has not indexed a notified
// signature.
var errNotYetAvailable = errors.New("transaction not yet available")

// WSStreamOptions configures a WSStream.
type WSStreamOptions struct {
	WS      rpc.WSClient
	Fetcher TxFetcher
	Target  solana.PublicKey
	// Commitment of the logs subscription, default confirmed.
	Commitment   string
	FetchRetries int
	RetryDelay   time.Duration
	BufferSize   int
	Logger       logrus.FieldLogger
}

// WSStream subscribes to logs mentioning the target wallet and fetches each
// notified transaction. Updates are emitted in notification order.
type WSStream struct {
	ws         rpc.WSClient
	fetcher    TxFetcher
	target     solana.PublicKey
	commitment string
	retries    int
	delay      time.Duration
	buffer     int
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewWSStream creates a stream. WS, Fetcher and Target are required.
func NewWSStream(opts WSStreamOptions) (*WSStream, error) {
	if opts.WS == nil || opts.Fetcher == nil {
		return nil, fmt.Errorf("ingestion: websocket client and fetcher are required")
	}
	if opts.Target.IsZero() {
		return nil, fmt.Errorf("ingestion: target wallet is required")
	}
	if opts.FetchRetries <= 0 {
		opts.FetchRetries = DefaultFetchRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &WSStream{
		ws:         opts.WS,
		fetcher:    opts.Fetcher,
		target:     opts.Target,
		commitment: opts.Commitment,
		retries:    opts.FetchRetries,
		delay:      opts.RetryDelay,
		buffer:     opts.BufferSize,
		logger:     opts.Logger.WithField("component", "stream"),
		now:        time.Now,
	}, nil
}

// Subscribe starts the subscription.
func (s *WSStream) Subscribe(ctx context.Context) (<-chan *wire.RawUpdate, error) {
	logs, err := s.ws.SubscribeLogs(ctx, rpc.LogsFilter{
		Mentions:   []string{s.target.String()},
		Commitment: s.commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe logs for %s: %w", s.target, err)
	}
	s.logger.WithField("target", s.target.String()).Info("subscribed to target logs")

	out := make(chan *wire.RawUpdate, s.buffer)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case notif, ok := <-logs:
				if !ok {
					s.logger.Warn("logs subscription closed")
					return
				}
				u := s.handle(ctx, notif)
				if u == nil {
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *WSStream) handle(ctx context.Context, notif rpc.LogNotification) *wire.RawUpdate {
	log := s.logger.WithFields(logrus.Fields{"signature": notif.Signature, "slot": notif.Slot})
	if notif.Failed() {
		log.Debug("skipping failed target transaction")
		return nil
	}
	received := s.now()

	tx, err := s.fetch(ctx, notif.Signature)
	if err != nil {
		if ctx.Err() == nil {
			observability.RecordTxFetchFailure()
			log.WithError(err).Warn("transaction fetch failed, update dropped")
		}
		return nil
	}
	if tx.Failed {
		log.Debug("skipping failed target transaction")
		return nil
	}

	u, err := ToRawUpdate(tx, s.target)
	if err != nil {
		log.WithError(err).Warn("unusable transaction metadata")
		return nil
	}
	u.ReceivedAt = received
	if u.Signature == "" {
		u.Signature = notif.Signature
	}
	observability.RecordUpdateReceived()
	observability.UpdateHighestSlot(u.Slot)
	return u
}

// fetch loads signature with exponential backoff. A nil result counts as a
// retryable miss.
func (s *WSStream) fetch(ctx context.Context, signature string) (*rpc.RawTransaction, error) {
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		tx, err := s.fetcher.GetTransaction(ctx, signature)
		switch {
		case err == nil && tx != nil:
			return tx, nil
		case err == nil:
			lastErr = errNotYetAvailable
		default:
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == s.retries-1 {
			break
		}

		delay := s.delay * time.Duration(1<<attempt)
		s.logger.WithFields(logrus.Fields{
			"signature": signature,
			"attempt":   attempt + 1,
			"delay":     delay,
		}).WithError(lastErr).Debug("retrying getTransaction")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("get transaction %s after %d attempts: %w", signature, s.retries, lastErr)
}

// ToRawUpdate converts a fetched transaction for the decoder.
func ToRawUpdate(tx *rpc.RawTransaction, sender solana.PublicKey) (*wire.RawUpdate, error) {
	writable, err := parseKeys(tx.LoadedWritable)
	if err != nil {
		return nil, fmt.Errorf("loaded writable: %w", err)
	}
	readonly, err := parseKeys(tx.LoadedReadonly)
	if err != nil {
		return nil, fmt.Errorf("loaded readonly: %w", err)
	}

	balances := make([]wire.TokenBalance, 0, len(tx.TokenBalances))
	for _, tb := range tx.TokenBalances {
		mint, err := solana.PublicKeyFromBase58(tb.Mint)
		if err != nil {
			return nil, fmt.Errorf("token balance mint %q: %w", tb.Mint, err)
		}
		var owner solana.PublicKey
		if tb.Owner != "" {
			if owner, err = solana.PublicKeyFromBase58(tb.Owner); err != nil {
				return nil, fmt.Errorf("token balance owner %q: %w", tb.Owner, err)
			}
		}
		balances = append(balances, wire.TokenBalance{AccountIndex: tb.AccountIndex, Mint: mint, Owner: owner})
	}

	return &wire.RawUpdate{
		Data:           tx.Data,
		Slot:           tx.Slot,
		Sender:         sender,
		Signature:      tx.Signature,
		LoadedWritable: writable,
		LoadedReadonly: readonly,
		TokenBalances:  balances,
	}, nil
}

func parseKeys(in []string) ([]solana.PublicKey, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]solana.PublicKey, len(in))
	for i, s := range in {
		k, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("address %q: %w", s, err)
		}
		out[i] = k
	}
	return out, nil
}
