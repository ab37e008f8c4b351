package balance

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/programs"
	rpc "solana-copy-trader/internal/solana"
)

// ChainReader is the subset of the node RPC used for balance reads.
type ChainReader interface {
	GetBalance(ctx context.Context, pubkey string) (*rpc.BalanceResult, error)
	GetMultipleAccounts(ctx context.Context, pubkeys []string) (*rpc.AccountsResult, error)
}

// Refresher re-reads the copy wallet's balances from chain into a Snapshot.
type Refresher struct {
	reader   ChainReader
	owner    solana.PublicKey
	snapshot *Snapshot
	logger   logrus.FieldLogger
}

// NewRefresher creates a refresher for owner's holdings.
func NewRefresher(reader ChainReader, owner solana.PublicKey, snapshot *Snapshot, logger logrus.FieldLogger) *Refresher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Refresher{
		reader:   reader,
		owner:    owner,
		snapshot: snapshot,
		logger:   logger.WithField("component", "balance"),
	}
}

// RefreshSOL reads the lamport balance.
func (r *Refresher) RefreshSOL(ctx context.Context) error {
	res, err := r.reader.GetBalance(ctx, r.owner.String())
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	r.snapshot.Set(domain.WrappedSOL, res.Lamports, res.Slot)
	return nil
}

// RefreshMints reads the owner's associated token account of each mint.
// A missing account is a zero balance.
func (r *Refresher) RefreshMints(ctx context.Context, mints ...solana.PublicKey) error {
	if len(mints) == 0 {
		return nil
	}

	keys := make([]string, len(mints))
	for i, mint := range mints {
		ata, _, err := solana.FindAssociatedTokenAddress(r.owner, mint)
		if err != nil {
			return fmt.Errorf("derive token account for %s: %w", mint, err)
		}
		keys[i] = ata.String()
	}

	res, err := r.reader.GetMultipleAccounts(ctx, keys)
	if err != nil {
		return fmt.Errorf("get token accounts: %w", err)
	}

	for i, mint := range mints {
		var amount uint64
		if acc := res.Accounts[i]; acc != nil {
			tok, err := programs.DecodeTokenAccount(acc.Data)
			if err != nil {
				r.logger.WithError(err).WithField("mint", mint.String()).Warn("undecodable token account")
				continue
			}
			amount = tok.Amount
		}
		r.snapshot.Set(mint, amount, res.Slot)
	}
	return nil
}

// Refresh reads SOL and the given mints.
func (r *Refresher) Refresh(ctx context.Context, mints ...solana.PublicKey) error {
	if err := r.RefreshSOL(ctx); err != nil {
		return err
	}
	var tokens []solana.PublicKey
	for _, m := range mints {
		if !m.Equals(domain.WrappedSOL) {
			tokens = append(tokens, m)
		}
	}
	return r.RefreshMints(ctx, tokens...)
}
