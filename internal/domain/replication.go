package domain

// Replication is the journal record of one replicated swap group.
type Replication struct {
	ReplicationID   string // deterministic hash
	SourceSignature string
	InstructionIdx  int // first instruction of the group
	EventCount      int
	Mint            string
	Venue           Venue
	Direction       string // "buy", "sell" or "buy,sell" for mixed groups

	// TruncatedEvents counts trailing events of the group dropped after a
	// later event failed to build; TruncatedReason is that failure.
	TruncatedEvents int
	TruncatedReason string

	TargetAmount  uint64
	ReplicaAmount uint64
	ExpectedOut   uint64

	ObservedSlot  int64
	StateSlot     int64
	ConfirmedSlot *int64

	Stage            string // "adapter", "assembly", "submission"
	Outcome          string // confirmed, dropped, failed, aborted
	Reason           string
	ReplicaSignature string
	BundleID         string

	DetectedAt  int64 // unix ms
	SubmittedAt *int64
	ResolvedAt  int64
}

// Replication stages.
const (
	StageAdapter    = "adapter"
	StageAssembly   = "assembly"
	StageSubmission = "submission"
)

// OutcomeAborted marks a replication that never reached the relay.
const OutcomeAborted = "aborted"
