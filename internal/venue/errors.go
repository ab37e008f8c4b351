package venue

import (
	"errors"
	"fmt"

	"solana-copy-trader/internal/domain"
)

// ErrorKind classifies why an adapter refused to build a replica.
type ErrorKind string

const (
	KindStaleState          ErrorKind = "stale_state"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindSlippageExceeded    ErrorKind = "slippage_exceeded"
	KindVenueClosed         ErrorKind = "venue_closed"
	KindInvalidParams       ErrorKind = "invalid_params"
)

// Kind sentinels. AdapterError matches them with errors.Is.
var (
	ErrStaleState          = errors.New("stale state")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSlippageExceeded    = errors.New("slippage exceeded")
	ErrVenueClosed         = errors.New("venue closed")
	ErrInvalidParams       = errors.New("invalid params")
)

var kindSentinels = map[ErrorKind]error{
	KindStaleState:          ErrStaleState,
	KindInsufficientBalance: ErrInsufficientBalance,
	KindSlippageExceeded:    ErrSlippageExceeded,
	KindVenueClosed:         ErrVenueClosed,
	KindInvalidParams:       ErrInvalidParams,
}

// AdapterError aborts one replica. The event is skipped, nothing is submitted.
type AdapterError struct {
	Kind   ErrorKind
	Venue  domain.Venue
	Reason string
}

func (e *AdapterError) Error() string {
	if e.Venue == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s", e.Venue, e.Kind, e.Reason)
}

// Unwrap returns the kind sentinel.
func (e *AdapterError) Unwrap() error {
	return kindSentinels[e.Kind]
}

func newError(kind ErrorKind, v domain.Venue, format string, args ...any) *AdapterError {
	return &AdapterError{Kind: kind, Venue: v, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of an adapter error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
