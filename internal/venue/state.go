package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/observability"
	rpc "solana-copy-trader/internal/solana"
)

// Freshness defaults.
const (
	DefaultMaxSlotLag   uint64 = 150
	DefaultFetchTimeout        = 2 * time.Second
)

// AccountState is raw account data read at one slot. Missing accounts are nil.
type AccountState struct {
	Slot uint64
	Data [][]byte
}

// StateReader reads pool or curve accounts.
type StateReader interface {
	ReadAccounts(ctx context.Context, keys ...solana.PublicKey) (*AccountState, error)
}

// AccountFetcher is the node RPC subset used by RPCStateReader.
type AccountFetcher interface {
	GetMultipleAccounts(ctx context.Context, pubkeys []string) (*rpc.AccountsResult, error)
}

// RPCStateReader reads accounts in one getMultipleAccounts call so every
// account is observed at the same slot.
type RPCStateReader struct {
	client AccountFetcher
}

// NewRPCStateReader creates a StateReader over node RPC.
func NewRPCStateReader(client AccountFetcher) *RPCStateReader {
	return &RPCStateReader{client: client}
}

// ReadAccounts implements StateReader.
func (r *RPCStateReader) ReadAccounts(ctx context.Context, keys ...solana.PublicKey) (*AccountState, error) {
	addrs := make([]string, len(keys))
	for i, k := range keys {
		addrs[i] = k.String()
	}
	res, err := r.client.GetMultipleAccounts(ctx, addrs)
	if err != nil {
		return nil, err
	}
	state := &AccountState{Slot: res.Slot, Data: make([][]byte, len(keys))}
	for i, acc := range res.Accounts {
		if acc != nil {
			state.Data[i] = acc.Data
		}
	}
	return state, nil
}

// Freshness bounds how old pricing state may be.
type Freshness struct {
	// MaxSlotLag is how many slots the state may trail the target's slot.
	MaxSlotLag uint64
	// FetchTimeout bounds one state read.
	FetchTimeout time.Duration
}

// DefaultFreshness returns the default bounds.
func DefaultFreshness() Freshness {
	return Freshness{MaxSlotLag: DefaultMaxSlotLag, FetchTimeout: DefaultFetchTimeout}
}

func (f Freshness) withDefaults() Freshness {
	if f.MaxSlotLag == 0 {
		f.MaxSlotLag = DefaultMaxSlotLag
	}
	if f.FetchTimeout <= 0 {
		f.FetchTimeout = DefaultFetchTimeout
	}
	return f
}

// read fetches keys and rejects state that is too old for eventSlot.
// Cancellation of ctx is returned as is; every other failure is StaleState.
func (f Freshness) read(ctx context.Context, reader StateReader, v domain.Venue, eventSlot uint64, keys ...solana.PublicKey) (*AccountState, error) {
	f = f.withDefaults()
	fetchCtx, cancel := context.WithTimeout(ctx, f.FetchTimeout)
	defer cancel()

	start := time.Now()
	state, err := reader.ReadAccounts(fetchCtx, keys...)
	observability.RecordStageLatency("state_fetch", time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("read %s state: %w", v, ctx.Err())
		}
		return nil, newError(KindStaleState, v, "state not fetched within %s: %v", f.FetchTimeout, err)
	}
	if len(state.Data) != len(keys) {
		return nil, newError(KindStaleState, v, "got %d accounts for %d keys", len(state.Data), len(keys))
	}
	if state.Slot+f.MaxSlotLag < eventSlot {
		return nil, newError(KindStaleState, v, "state slot %d trails event slot %d by more than %d", state.Slot, eventSlot, f.MaxSlotLag)
	}
	return state, nil
}
