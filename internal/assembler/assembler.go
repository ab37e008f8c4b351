// Package assembler turns replica instructions into signed transactions.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/sirupsen/logrus"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/observability"
)

// MaxTransactionSize is the packet limit for a serialized transaction.
const MaxTransactionSize = 1232

// DefaultMaxBlockhashAge bounds how long after fetching a blockhash may
// still be used.
const DefaultMaxBlockhashAge = 60 * time.Second

// Signer signs transaction messages for the copy wallet.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(message []byte) (solana.Signature, error)
}

// SignedTransaction is a serialized, signed transaction ready to submit.
type SignedTransaction struct {
	Tx        *solana.Transaction
	Raw       []byte
	Signature solana.Signature
	Blockhash Blockhash
	// PriorityFeeLamports is unit price times unit limit, rounded up.
	PriorityFeeLamports uint64
}

// Options configures an Assembler.
type Options struct {
	Signer          Signer
	Blockhashes     *BlockhashCache
	Priority        domain.PriorityPolicy
	MaxBlockhashAge time.Duration
	Logger          logrus.FieldLogger
}

// Assembler prepends compute budget instructions, attaches a recent
// blockhash and signs.
type Assembler struct {
	signer      Signer
	blockhashes *BlockhashCache
	priority    domain.PriorityPolicy
	maxAge      time.Duration
	logger      logrus.FieldLogger
	now         func() time.Time
}

// New creates an Assembler.
func New(opts Options) (*Assembler, error) {
	if opts.Signer == nil {
		return nil, fmt.Errorf("assembler: signer is required")
	}
	if opts.Blockhashes == nil {
		return nil, fmt.Errorf("assembler: blockhash cache is required")
	}
	if opts.Priority.ComputeUnitLimit == 0 {
		opts.Priority.ComputeUnitLimit = domain.DefaultComputeUnitLimit
	}
	if opts.MaxBlockhashAge <= 0 {
		opts.MaxBlockhashAge = DefaultMaxBlockhashAge
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Assembler{
		signer:      opts.Signer,
		blockhashes: opts.Blockhashes,
		priority:    opts.Priority,
		maxAge:      opts.MaxBlockhashAge,
		logger:      logger.WithField("component", "assembler"),
		now:         time.Now,
	}, nil
}

// Priority returns the configured priority policy.
func (a *Assembler) Priority() domain.PriorityPolicy {
	return a.priority
}

// Assemble builds and signs the replica transaction. A stale blockhash is
// refreshed and the transaction rebuilt once; SizeExceeded is final.
func (a *Assembler) Assemble(ctx context.Context, set *domain.ReplicaInstructionSet) (*SignedTransaction, error) {
	if set == nil || len(set.Instructions) == 0 {
		return nil, fmt.Errorf("assemble: no instructions")
	}
	start := time.Now()
	defer func() { observability.RecordStageLatency("assembly", time.Since(start).Seconds()) }()

	ixs, err := a.budgetInstructions()
	if err != nil {
		return nil, err
	}
	ixs = append(ixs, set.Instructions...)

	bh, err := a.blockhashes.Get(ctx)
	if err != nil {
		return nil, &AssemblyError{Kind: KindStaleBlockhash, Reason: err.Error()}
	}
	stx, err := a.sign(ixs, bh)
	if errors.Is(err, ErrStaleBlockhash) {
		a.logger.WithField("fetched_at", bh.FetchedAt).Info("blockhash stale, refreshing")
		bh, rerr := a.blockhashes.Refresh(ctx)
		if rerr != nil {
			return nil, &AssemblyError{Kind: KindStaleBlockhash, Reason: rerr.Error()}
		}
		stx, err = a.sign(ixs, bh)
	}
	if err != nil {
		var ae *AssemblyError
		if errors.As(err, &ae) {
			observability.RecordAssemblyError(string(ae.Kind))
		}
		return nil, err
	}

	stx.PriorityFeeLamports = a.priority.PriorityFeeLamports()
	observability.RecordPriorityFee(stx.PriorityFeeLamports)
	return stx, nil
}

// TipTransaction signs a transfer of lamports to tipAccount with the same
// blockhash as primary, for bundling after it.
func (a *Assembler) TipTransaction(primary *SignedTransaction, tipAccount solana.PublicKey, lamports uint64) (*SignedTransaction, error) {
	ix, err := system.NewTransferInstruction(lamports, a.signer.PublicKey(), tipAccount).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("tip transfer: %w", err)
	}
	return a.sign([]solana.Instruction{ix}, primary.Blockhash)
}

// budgetInstructions returns the unit limit at index 0 and, when priced,
// the unit price at index 1.
func (a *Assembler) budgetInstructions() ([]solana.Instruction, error) {
	limit, err := computebudget.NewSetComputeUnitLimitInstruction(a.priority.ComputeUnitLimit).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("compute unit limit: %w", err)
	}
	ixs := []solana.Instruction{limit}
	if a.priority.UnitPriceMicroLamports > 0 {
		price, err := computebudget.NewSetComputeUnitPriceInstruction(a.priority.UnitPriceMicroLamports).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("compute unit price: %w", err)
		}
		ixs = append(ixs, price)
	}
	return ixs, nil
}

func (a *Assembler) sign(ixs []solana.Instruction, bh Blockhash) (*SignedTransaction, error) {
	if age := a.now().Sub(bh.FetchedAt); age > a.maxAge {
		return nil, &AssemblyError{Kind: KindStaleBlockhash, Reason: fmt.Sprintf("blockhash fetched %s ago, max %s", age.Round(time.Millisecond), a.maxAge)}
	}

	payer := a.signer.PublicKey()
	tx, err := solana.NewTransaction(ixs, bh.Hash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	if n := tx.Message.Header.NumRequiredSignatures; n != 1 {
		return nil, fmt.Errorf("build transaction: %d required signers, only the payer can sign", n)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	sig, err := a.signer.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	tx.Signatures = []solana.Signature{sig}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}
	if len(raw) > MaxTransactionSize {
		return nil, &AssemblyError{Kind: KindSizeExceeded, Reason: fmt.Sprintf("%d bytes exceeds %d", len(raw), MaxTransactionSize)}
	}
	return &SignedTransaction{Tx: tx, Raw: raw, Signature: sig, Blockhash: bh}, nil
}
