package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Outcome is the terminal state of a submission.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeDropped means the relay accepted but nothing landed before the
	// deadline. It is a competitive loss, not an error.
	OutcomeDropped Outcome = "dropped"
	OutcomeFailed  Outcome = "failed"
)

// SubmissionResult records how one signed transaction fared.
type SubmissionResult struct {
	Outcome   Outcome
	Reason    string // why it failed or dropped
	Signature solana.Signature
	BundleID  string
	// Slot is the confirmation slot, nil unless confirmed.
	Slot *uint64

	SubmittedAt time.Time
	ResolvedAt  time.Time
}

// Latency returns the time from submission to resolution.
func (r *SubmissionResult) Latency() time.Duration {
	if r.SubmittedAt.IsZero() || r.ResolvedAt.IsZero() {
		return 0
	}
	return r.ResolvedAt.Sub(r.SubmittedAt)
}
