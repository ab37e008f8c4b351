package stub

import (
	"context"
	"sync"

	"solana-copy-trader/internal/solana"
)

// RPCClient implements solana.RPCClient for testing. Fields may be set
// directly before use; methods are safe for concurrent calls.
type RPCClient struct {
	mu sync.Mutex

	Transactions map[string]*solana.RawTransaction
	Accounts     map[string]*solana.AccountInfo
	Balances     map[string]uint64
	Statuses     map[string]*solana.SignatureStatus
	Blockhash    string
	Slot         uint64

	// Err, when set, fails every call.
	Err error

	calls map[string]int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions: make(map[string]*solana.RawTransaction),
		Accounts:     make(map[string]*solana.AccountInfo),
		Balances:     make(map[string]uint64),
		Statuses:     make(map[string]*solana.SignatureStatus),
		Blockhash:    "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
		Slot:         1,
		calls:        make(map[string]int),
	}
}

// SetAccount stores account data.
func (c *RPCClient) SetAccount(pubkey string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = &solana.AccountInfo{Data: data, Lamports: 1}
}

// SetSlot sets the slot reported by reads.
func (c *RPCClient) SetSlot(slot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Slot = slot
}

// SetStatus sets the status of a signature.
func (c *RPCClient) SetStatus(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[signature] = status
}

// Calls returns how many times method was called.
func (c *RPCClient) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *RPCClient) record(method string) error {
	c.calls[method]++
	return c.Err
}

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.RawTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("getTransaction"); err != nil {
		return nil, err
	}
	tx, ok := c.Transactions[signature]
	if !ok {
		return nil, nil
	}
	return tx, nil
}

// GetMultipleAccounts returns stored accounts at the stub slot.
func (c *RPCClient) GetMultipleAccounts(_ context.Context, pubkeys []string) (*solana.AccountsResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("getMultipleAccounts"); err != nil {
		return nil, err
	}
	out := &solana.AccountsResult{Slot: c.Slot, Accounts: make([]*solana.AccountInfo, len(pubkeys))}
	for i, key := range pubkeys {
		if acc, ok := c.Accounts[key]; ok {
			copied := *acc
			copied.Data = append([]byte(nil), acc.Data...)
			out.Accounts[i] = &copied
		}
	}
	return out, nil
}

// GetLatestBlockhash returns the stub blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (*solana.BlockhashResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("getLatestBlockhash"); err != nil {
		return nil, err
	}
	return &solana.BlockhashResult{Blockhash: c.Blockhash, LastValidBlockHeight: c.Slot + 150, Slot: c.Slot}, nil
}

// GetSignatureStatuses returns stored statuses; unknown signatures are nil.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("getSignatureStatuses"); err != nil {
		return nil, err
	}
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		out[i] = c.Statuses[sig]
	}
	return out, nil
}

// GetBalance returns the stored lamport balance.
func (c *RPCClient) GetBalance(_ context.Context, pubkey string) (*solana.BalanceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("getBalance"); err != nil {
		return nil, err
	}
	return &solana.BalanceResult{Lamports: c.Balances[pubkey], Slot: c.Slot}, nil
}

// GetSlot returns the stub slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("getSlot"); err != nil {
		return 0, err
	}
	return int64(c.Slot), nil
}

var _ solana.RPCClient = (*RPCClient)(nil)
