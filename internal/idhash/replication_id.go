// Package idhash derives deterministic record identifiers.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"solana-copy-trader/internal/domain"
)

// ComputeReplicationID computes a deterministic replication_id using SHA256.
// Formula: SHA256(source_signature|instruction_idx|mint|venue)
// Returns hex-encoded hash (64 characters). A replayed update maps to the
// same id, so the journal rejects it as a duplicate.
func ComputeReplicationID(
	sourceSignature string,
	instructionIdx int,
	mint string,
	venue domain.Venue,
) string {
	data := fmt.Sprintf("%s|%d|%s|%s",
		sourceSignature,
		instructionIdx,
		mint,
		string(venue),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
