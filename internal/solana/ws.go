package solana

import "context"

// WSClient streams logsSubscribe notifications.
type WSClient interface {
	// SubscribeLogs returns a channel that survives reconnects and is closed
	// by Close.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)
	Close() error
}

// LogsFilter selects transactions by a mentioned account. The node accepts
// only one address; an empty slice subscribes to everything.
type LogsFilter struct {
	Mentions   []string
	Commitment string // DefaultCommitment when empty
}

// LogNotification is one logsNotification payload.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       any // transaction error as reported by the node, nil on success
}

// Failed reports whether the notified transaction errored on chain.
func (n LogNotification) Failed() bool { return n.Err != nil }
