package solana

import "context"

// RPCClient defines the node JSON-RPC methods used by the service.
type RPCClient interface {
	// GetTransaction retrieves a confirmed transaction as raw wire bytes.
	// Returns nil if the node does not know the signature yet.
	GetTransaction(ctx context.Context, signature string) (*RawTransaction, error)

	// GetMultipleAccounts reads accounts at a single slot. Missing
	// accounts are nil entries.
	GetMultipleAccounts(ctx context.Context, pubkeys []string) (*AccountsResult, error)

	// GetLatestBlockhash returns a recent blockhash.
	GetLatestBlockhash(ctx context.Context) (*BlockhashResult, error)

	// GetSignatureStatuses returns confirmation state per signature.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetBalance returns lamports held by an account.
	GetBalance(ctx context.Context, pubkey string) (*BalanceResult, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)
}

// RawTransaction is a fetched transaction with the metadata needed to
// decode its instructions.
type RawTransaction struct {
	Slot      uint64
	Signature string
	BlockTime int64 // Unix timestamp (seconds), 0 if unknown
	// Data is the serialized transaction.
	Data []byte
	// Failed reports a transaction that executed with an error.
	Failed bool

	LoadedWritable []string
	LoadedReadonly []string
	TokenBalances  []TokenBalance
}

// TokenBalance is one entry of pre/post token balances.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// AccountsResult holds accounts read at one slot.
type AccountsResult struct {
	Slot     uint64
	Accounts []*AccountInfo
}

// BlockhashResult is a recent blockhash and the slot it was read at.
type BlockhashResult struct {
	Blockhash            string
	LastValidBlockHeight uint64
	Slot                 uint64
}

// SignatureStatus is the node's view of a submitted signature.
type SignatureStatus struct {
	Slot               uint64
	ConfirmationStatus string // processed, confirmed, finalized
	Err                interface{}
}

// Confirmed reports whether the signature reached confirmed or finalized.
func (s *SignatureStatus) Confirmed() bool {
	return s != nil && (s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized")
}

// BalanceResult is a lamport balance at a slot.
type BalanceResult struct {
	Lamports uint64
	Slot     uint64
}
