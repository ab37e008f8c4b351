package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-copy-trader/internal/assembler"
	"solana-copy-trader/internal/balance"
	"solana-copy-trader/internal/bundle"
	"solana-copy-trader/internal/discovery"
	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/programs"
	"solana-copy-trader/internal/signer"
	rpc "solana-copy-trader/internal/solana"
	solstub "solana-copy-trader/internal/solana/stub"
	"solana-copy-trader/internal/storage"
	"solana-copy-trader/internal/storage/memory"
	"solana-copy-trader/internal/venue"
	"solana-copy-trader/internal/wire"
	wirestub "solana-copy-trader/internal/wire/stub"
)

const (
	curveVirtualTokens uint64 = 1_073_000_000_000_000
	curveVirtualSol    uint64 = 30_000_000_000
	curveRealTokens    uint64 = 793_100_000_000_000
	curveRealSol       uint64 = 5_000_000_000

	stateSlot uint64 = 1_000
)

// landingRelay accepts every bundle. When land is set the first
// transaction is marked confirmed on the node stub as it is sent.
type landingRelay struct {
	node *solstub.RPCClient
	land bool

	mu    sync.Mutex
	sends [][][]byte
}

func (r *landingRelay) TipAccounts(context.Context) ([]solana.PublicKey, error) {
	return nil, nil
}

func (r *landingRelay) SendBundle(_ context.Context, txs [][]byte) (string, error) {
	r.mu.Lock()
	r.sends = append(r.sends, txs)
	id := fmt.Sprintf("bundle-%d", len(r.sends))
	r.mu.Unlock()

	if r.land {
		sig := solana.SignatureFromBytes(txs[0][1:65])
		r.node.SetStatus(sig.String(), &rpc.SignatureStatus{Slot: stateSlot + 2, ConfirmationStatus: "confirmed"})
	}
	return id, nil
}

func (r *landingRelay) BundleStatuses(_ context.Context, ids []string) ([]*bundle.BundleStatus, error) {
	return []*bundle.BundleStatus{{BundleID: ids[0], Status: bundle.BundlePending}}, nil
}

func (r *landingRelay) Sends() [][][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][][]byte(nil), r.sends...)
}

// gatedReader blocks reads until ctx ends while blocked is set.
type gatedReader struct {
	inner   venue.StateReader
	blocked atomic.Bool
	entered chan struct{}
}

func (r *gatedReader) ReadAccounts(ctx context.Context, keys ...solana.PublicKey) (*venue.AccountState, error) {
	if r.blocked.Load() {
		select {
		case r.entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.inner.ReadAccounts(ctx, keys...)
}

type recordingAnalytics struct {
	mu   sync.Mutex
	rows []*domain.Replication
}

func (a *recordingAnalytics) Record(_ context.Context, r *domain.Replication) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, r)
	return nil
}

func (a *recordingAnalytics) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

type harness struct {
	copyKey   solana.PrivateKey
	target    solana.PrivateKey
	node      *solstub.RPCClient
	reader    *gatedReader
	relay     *landingRelay
	snapshot  *balance.Snapshot
	journal   *memory.ReplicationStore
	seen      *memory.SeenSignatureStore
	analytics *recordingAnalytics
	pipeline  *Pipeline
}

type harnessConfig struct {
	sizing   domain.SizingPolicy
	deadline time.Duration
	land     bool
	solHeld  uint64
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	h := &harness{
		copyKey:   solana.NewWallet().PrivateKey,
		target:    solana.NewWallet().PrivateKey,
		node:      solstub.NewRPCClient(),
		snapshot:  balance.NewSnapshot(),
		journal:   memory.NewReplicationStore(),
		analytics: &recordingAnalytics{},
	}
	h.seen = memory.NewSeenSignatureStore(storageOpts())
	h.node.SetSlot(stateSlot)
	h.node.Balances[h.copyKey.PublicKey().String()] = cfg.solHeld
	h.snapshot.Set(domain.WrappedSOL, cfg.solHeld, 1)
	h.reader = &gatedReader{inner: venue.NewRPCStateReader(h.node), entered: make(chan struct{}, 1)}
	h.relay = &landingRelay{node: h.node, land: cfg.land}

	copySigner, err := signer.New(h.copyKey)
	require.NoError(t, err)

	pump, err := venue.NewPumpFunAdapter(venue.Options{
		Owner:       h.copyKey.PublicKey(),
		Reader:      h.reader,
		SlippageBps: 100,
		Freshness:   venue.Freshness{FetchTimeout: 5 * time.Second},
	})
	require.NoError(t, err)

	asm, err := assembler.New(assembler.Options{
		Signer:      copySigner,
		Blockhashes: assembler.NewBlockhashCache(h.node, time.Second, nil),
		Priority:    domain.DefaultPriorityPolicy(),
	})
	require.NoError(t, err)

	deadline := cfg.deadline
	if deadline == 0 {
		deadline = 2 * time.Second
	}
	sub, err := bundle.NewSubmitter(bundle.Options{
		Relay:        h.relay,
		Statuses:     h.node,
		Deadline:     deadline,
		PollInterval: 10 * time.Millisecond,
		PollRetries:  1,
	})
	require.NoError(t, err)

	h.pipeline, err = New(Options{
		Target:       h.target.PublicKey(),
		Extractor:    discovery.NewExtractor(discovery.ExtractorOptions{}),
		Replicator:   venue.NewRegistry(pump),
		Assembler:    asm,
		Submitter:    sub,
		Sizing:       cfg.sizing,
		Snapshot:     h.snapshot,
		Refresher:    balance.NewRefresher(h.node, h.copyKey.PublicKey(), h.snapshot, nil),
		Replications: h.journal,
		Seen:         h.seen,
		Analytics:    h.analytics,
	})
	require.NoError(t, err)
	return h
}

// listMint publishes an open bonding curve for a new mint.
func (h *harness) listMint(t *testing.T) solana.PublicKey {
	t.Helper()
	mint := solana.NewWallet().PublicKey()
	curve, err := programs.BondingCurvePDA(mint)
	require.NoError(t, err)
	h.node.SetAccount(curve.String(), bondingCurveData())
	return mint
}

func (h *harness) buy(t *testing.T, mint solana.PublicKey, maxSol uint64) solana.Instruction {
	t.Helper()
	ix, err := wirestub.PumpFunTrade(h.target.PublicKey(), mint, domain.Buy, curveBuyQuote(maxSol), maxSol)
	require.NoError(t, err)
	return ix
}

func (h *harness) sell(t *testing.T, mint solana.PublicKey, tokens uint64) solana.Instruction {
	t.Helper()
	ix, err := wirestub.PumpFunTrade(h.target.PublicKey(), mint, domain.Sell, tokens, 0)
	require.NoError(t, err)
	return ix
}

func (h *harness) update(t *testing.T, ixs ...solana.Instruction) *wire.RawUpdate {
	t.Helper()
	u, err := wirestub.BuildUpdate(h.target, stateSlot, ixs)
	require.NoError(t, err)
	return u
}

func storageOpts() storage.SeenOptions {
	return storage.SeenOptions{TTL: time.Hour, Capacity: 1_000}
}

func bondingCurveData() []byte {
	data := make([]byte, programs.BondingCurveAccountSize)
	binary.LittleEndian.PutUint64(data[8:], curveVirtualTokens)
	binary.LittleEndian.PutUint64(data[16:], curveVirtualSol)
	binary.LittleEndian.PutUint64(data[24:], curveRealTokens)
	binary.LittleEndian.PutUint64(data[32:], curveRealSol)
	binary.LittleEndian.PutUint64(data[40:], 1_000_000_000_000_000)
	return data
}

// curveBuyQuote is the token output of a buy with budget lamports, fee
// included, on the test curve.
func curveBuyQuote(budget uint64) uint64 {
	solIn := new(big.Int).Mul(new(big.Int).SetUint64(budget), big.NewInt(10_000))
	solIn.Div(solIn, big.NewInt(10_100))
	num := new(big.Int).Mul(new(big.Int).SetUint64(curveVirtualTokens), solIn)
	den := new(big.Int).Add(new(big.Int).SetUint64(curveVirtualSol), solIn)
	return num.Div(num, den).Uint64()
}

func decodeSent(t *testing.T, raw []byte) *wire.DecodedTransaction {
	t.Helper()
	tx, err := wire.NewDecoder().Decode(&wire.RawUpdate{Data: raw})
	require.NoError(t, err)
	require.Empty(t, tx.Faults)
	return tx
}

func pumpDiscriminator(t *testing.T, ix wire.DecodedInstruction) uint64 {
	t.Helper()
	args, err := programs.DecodePumpFunTradeArgs(ix.Data)
	require.NoError(t, err)
	return args.Discriminator
}

func TestProcess_BalanceCappedBuyConfirmed(t *testing.T) {
	h := newHarness(t, harnessConfig{
		sizing:  domain.BalanceCapped(domain.NewFraction(1, 2)),
		land:    true,
		solHeld: 2_000_000,
	})
	mint := h.listMint(t)
	u := h.update(t, h.buy(t, mint, 1_000_000))

	res, err := h.pipeline.Process(context.Background(), u)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.Len(t, res.Replications, 1)

	rep := res.Replications[0]
	assert.Equal(t, string(domain.OutcomeConfirmed), rep.Outcome)
	assert.Equal(t, domain.StageSubmission, rep.Stage)
	assert.Equal(t, uint64(1_000_000), rep.ReplicaAmount)
	assert.Equal(t, uint64(1_000_000), rep.TargetAmount)
	assert.Equal(t, curveBuyQuote(1_000_000), rep.ExpectedOut)
	assert.Equal(t, "buy", rep.Direction)
	assert.Equal(t, mint.String(), rep.Mint)
	assert.Equal(t, domain.VenuePumpFun, rep.Venue)
	require.NotNil(t, rep.ConfirmedSlot)
	assert.Equal(t, int64(stateSlot+2), *rep.ConfirmedSlot)
	require.NotNil(t, rep.SubmittedAt)
	assert.Equal(t, "bundle-1", rep.BundleID)

	sends := h.relay.Sends()
	require.Len(t, sends, 1)
	require.Len(t, sends[0], 1)
	tx := decodeSent(t, sends[0][0])
	assert.Equal(t, rep.ReplicaSignature, tx.Signature.String())
	assert.Equal(t, h.copyKey.PublicKey(), tx.AccountKeys[0])

	require.Len(t, tx.Instructions, 4)
	assert.Equal(t, programs.ComputeBudgetProgramID, tx.Instructions[0].ProgramID)
	assert.Equal(t, byte(2), tx.Instructions[0].Data[0])
	assert.Equal(t, programs.ComputeBudgetProgramID, tx.Instructions[1].ProgramID)
	assert.Equal(t, byte(3), tx.Instructions[1].Data[0])
	assert.Equal(t, programs.AssociatedTokenID, tx.Instructions[2].ProgramID)
	buy := tx.Instructions[3]
	assert.Equal(t, programs.PumpFunProgramID, buy.ProgramID)
	args, err := programs.DecodePumpFunTradeArgs(buy.Data)
	require.NoError(t, err)
	assert.Equal(t, programs.PumpFunBuyDiscriminator, args.Discriminator)
	assert.Equal(t, uint64(1_000_000), args.SolLimit)

	stored, err := h.journal.GetByID(context.Background(), rep.ReplicationID)
	require.NoError(t, err)
	assert.Equal(t, rep.ReplicaSignature, stored.ReplicaSignature)
	assert.Equal(t, 1, h.analytics.Len())

	// Confirmation re-reads SOL and the mint's token account.
	assert.Equal(t, 1, h.node.Calls("getBalance"))
	sol, _ := h.snapshot.Holding(domain.WrappedSOL)
	assert.Zero(t, sol.Reserved)
}

func TestProcess_DuplicateUpdateIsNoop(t *testing.T) {
	h := newHarness(t, harnessConfig{
		sizing:  domain.Proportional(domain.NewFraction(1, 1)),
		land:    true,
		solHeld: 5_000_000,
	})
	mint := h.listMint(t)
	u := h.update(t, h.buy(t, mint, 1_000_000))

	first, err := h.pipeline.Process(context.Background(), u)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Len(t, first.Events, 1)

	second, err := h.pipeline.Process(context.Background(), u)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Empty(t, second.Events)
	assert.Empty(t, second.Replications)

	assert.Equal(t, 1, h.journal.Len())
	assert.Len(t, h.relay.Sends(), 1)
}

func TestProcess_BuyThenSellKeepsOrder(t *testing.T) {
	h := newHarness(t, harnessConfig{
		sizing:  domain.Proportional(domain.NewFraction(1, 1)),
		land:    true,
		solHeld: 2_000_000,
	})
	mint := h.listMint(t)
	sold := curveBuyQuote(1_000_000) / 2
	u := h.update(t, h.buy(t, mint, 1_000_000), h.sell(t, mint, sold))

	res, err := h.pipeline.Process(context.Background(), u)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	require.Len(t, res.Replications, 1)

	rep := res.Replications[0]
	assert.Equal(t, string(domain.OutcomeConfirmed), rep.Outcome)
	assert.Equal(t, 2, rep.EventCount)
	assert.Equal(t, "buy,sell", rep.Direction)
	assert.Equal(t, 0, rep.InstructionIdx)

	sends := h.relay.Sends()
	require.Len(t, sends, 1)
	tx := decodeSent(t, sends[0][0])

	var pump []wire.DecodedInstruction
	for _, ix := range tx.Instructions {
		if ix.ProgramID.Equals(programs.PumpFunProgramID) {
			pump = append(pump, ix)
		}
	}
	require.Len(t, pump, 2)
	assert.Equal(t, programs.PumpFunBuyDiscriminator, pumpDiscriminator(t, pump[0]))
	assert.Equal(t, programs.PumpFunSellDiscriminator, pumpDiscriminator(t, pump[1]))
	assert.Less(t, pump[0].Index, pump[1].Index)

	// The copy wallet held no tokens; the sell is sized from the buy.
	sellArgs, err := programs.DecodePumpFunTradeArgs(pump[1].Data)
	require.NoError(t, err)
	assert.Equal(t, sold, sellArgs.Amount)
}

func TestProcess_DeadlineDropsWithoutResend(t *testing.T) {
	h := newHarness(t, harnessConfig{
		sizing:   domain.BalanceCapped(domain.NewFraction(1, 2)),
		deadline: 100 * time.Millisecond,
		solHeld:  2_000_000,
	})
	mint := h.listMint(t)

	res, err := h.pipeline.Process(context.Background(), h.update(t, h.buy(t, mint, 1_000_000)))
	require.NoError(t, err)
	require.Len(t, res.Replications, 1)

	rep := res.Replications[0]
	assert.Equal(t, string(domain.OutcomeDropped), rep.Outcome)
	assert.Nil(t, rep.ConfirmedSlot)
	assert.Len(t, h.relay.Sends(), 1)

	// The reservation is returned and nothing was settled.
	assert.Equal(t, uint64(2_000_000), h.snapshot.Available(domain.WrappedSOL))
	assert.Zero(t, h.node.Calls("getBalance"))
}

func TestProcess_MalformedUpdate(t *testing.T) {
	h := newHarness(t, harnessConfig{sizing: domain.Proportional(domain.NewFraction(1, 1)), solHeld: 1})

	for _, data := range [][]byte{nil, {0x00}, {0x01, 0x02, 0x03}} {
		res, err := h.pipeline.Process(context.Background(), &wire.RawUpdate{Data: data})
		assert.ErrorIs(t, err, wire.ErrMalformed)
		assert.Nil(t, res)
	}
	assert.Zero(t, h.seen.Len())
	assert.Zero(t, h.journal.Len())
}

func TestProcess_NoTargetSwaps(t *testing.T) {
	h := newHarness(t, harnessConfig{sizing: domain.Proportional(domain.NewFraction(1, 1)), solHeld: 1})
	mint := h.listMint(t)

	// Sent by the target but naming another, unsigned, user.
	accounts, err := programs.PumpFunTradeAccounts(mint, solana.NewWallet().PublicKey(), false)
	require.NoError(t, err)
	accounts[programs.PumpFunAccUser].IsSigner = false
	ix := programs.NewPumpFunTradeInstruction(accounts, programs.PumpFunTradeArgs{
		Discriminator: programs.PumpFunBuyDiscriminator,
		Amount:        1,
		SolLimit:      1_000,
	})
	u, err := wirestub.BuildUpdate(h.target, stateSlot, []solana.Instruction{ix})
	require.NoError(t, err)

	res, err := h.pipeline.Process(context.Background(), u)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Empty(t, h.relay.Sends())
}

func TestProcess_AdapterAbortJournaled(t *testing.T) {
	h := newHarness(t, harnessConfig{
		sizing:  domain.Proportional(domain.NewFraction(1, 1)),
		solHeld: 0,
	})
	mint := h.listMint(t)

	res, err := h.pipeline.Process(context.Background(), h.update(t, h.buy(t, mint, 1_000_000)))
	require.NoError(t, err)
	require.Len(t, res.Replications, 1)

	rep := res.Replications[0]
	assert.Equal(t, domain.OutcomeAborted, rep.Outcome)
	assert.Equal(t, domain.StageAdapter, rep.Stage)
	assert.Contains(t, rep.Reason, string(venue.KindInsufficientBalance))
	assert.Empty(t, rep.ReplicaSignature)
	assert.Empty(t, h.relay.Sends())
	assert.Equal(t, 1, h.journal.Len())
}

func TestProcess_LaterEventAbortSubmitsPrefix(t *testing.T) {
	h := newHarness(t, harnessConfig{
		sizing:  domain.Proportional(domain.NewFraction(1, 1)),
		land:    true,
		solHeld: 1_000_000,
	})
	mint := h.listMint(t)
	// The first buy spends everything; the second has nothing to size from.
	u := h.update(t, h.buy(t, mint, 1_000_000), h.buy(t, mint, 1_000_000))

	res, err := h.pipeline.Process(context.Background(), u)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	require.Len(t, res.Replications, 1)

	rep := res.Replications[0]
	assert.Equal(t, string(domain.OutcomeConfirmed), rep.Outcome)
	assert.Equal(t, 1, rep.EventCount)
	assert.Equal(t, uint64(1_000_000), rep.ReplicaAmount)
	assert.Equal(t, 1, rep.TruncatedEvents)
	assert.Contains(t, rep.TruncatedReason, string(venue.KindInsufficientBalance))
	assert.Len(t, h.relay.Sends(), 1)

	stored, err := h.journal.GetByID(context.Background(), rep.ReplicationID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TruncatedEvents)
}

func TestProcess_SellOfPreviouslyHeldTokens(t *testing.T) {
	h := newHarness(t, harnessConfig{
		sizing:  domain.Proportional(domain.NewFraction(1, 2)),
		land:    true,
		solHeld: 1_000_000,
	})
	mint := h.listMint(t)
	ata, _, err := solana.FindAssociatedTokenAddress(h.copyKey.PublicKey(), mint)
	require.NoError(t, err)
	h.node.SetAccount(ata.String(), tokenAccountData(mint, h.copyKey.PublicKey(), 10_000_000))

	res, err := h.pipeline.Process(context.Background(), h.update(t, h.sell(t, mint, 4_000_000)))
	require.NoError(t, err)
	require.Len(t, res.Replications, 1)

	rep := res.Replications[0]
	assert.Equal(t, string(domain.OutcomeConfirmed), rep.Outcome, rep.Reason)
	assert.Equal(t, uint64(2_000_000), rep.ReplicaAmount)

	sends := h.relay.Sends()
	require.Len(t, sends, 1)
	var sell *wire.DecodedInstruction
	for _, ix := range decodeSent(t, sends[0][0]).Instructions {
		if ix.ProgramID.Equals(programs.PumpFunProgramID) {
			sell = &ix
		}
	}
	require.NotNil(t, sell)
	args, err := programs.DecodePumpFunTradeArgs(sell.Data)
	require.NoError(t, err)
	assert.Equal(t, programs.PumpFunSellDiscriminator, args.Discriminator)
	assert.Equal(t, uint64(2_000_000), args.Amount)
}

type failingJournal struct {
	*memory.ReplicationStore
}

func (failingJournal) Insert(context.Context, *domain.Replication) error {
	return errors.New("connection reset")
}

func TestProcess_JournalFailureReturned(t *testing.T) {
	h := newHarness(t, harnessConfig{
		sizing:  domain.Proportional(domain.NewFraction(1, 1)),
		solHeld: 0,
	})
	opts := h.pipeline.opts
	opts.Replications = failingJournal{memory.NewReplicationStore()}
	p, err := New(opts)
	require.NoError(t, err)
	mint := h.listMint(t)

	res, err := p.Process(context.Background(), h.update(t, h.buy(t, mint, 1_000_000)))
	require.ErrorContains(t, err, "connection reset")
	require.NotNil(t, res)
	require.Len(t, res.Replications, 1)
	assert.Equal(t, domain.OutcomeAborted, res.Replications[0].Outcome)
	assert.Equal(t, 1, h.analytics.Len())
}

func tokenAccountData(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, programs.TokenAccountSize)
	copy(data[0:], mint[:])
	copy(data[32:], owner[:])
	binary.LittleEndian.PutUint64(data[64:], amount)
	return data
}

func TestProcess_MintsReplicatedIndependently(t *testing.T) {
	h := newHarness(t, harnessConfig{
		sizing:  domain.Proportional(domain.NewFraction(1, 1)),
		land:    true,
		solHeld: 10_000_000,
	})
	a, b := h.listMint(t), h.listMint(t)
	u := h.update(t, h.buy(t, a, 1_000_000), h.buy(t, b, 2_000_000))

	res, err := h.pipeline.Process(context.Background(), u)
	require.NoError(t, err)
	require.Len(t, res.Replications, 2)

	assert.Equal(t, a.String(), res.Replications[0].Mint)
	assert.Equal(t, 0, res.Replications[0].InstructionIdx)
	assert.Equal(t, b.String(), res.Replications[1].Mint)
	assert.Equal(t, 1, res.Replications[1].InstructionIdx)
	assert.NotEqual(t, res.Replications[0].ReplicationID, res.Replications[1].ReplicationID)
	for _, rep := range res.Replications {
		assert.Equal(t, string(domain.OutcomeConfirmed), rep.Outcome)
	}
	assert.Len(t, h.relay.Sends(), 2)
}

func TestProcess_CancelledBeforeAssemblyIsForgotten(t *testing.T) {
	h := newHarness(t, harnessConfig{
		sizing:  domain.Proportional(domain.NewFraction(1, 1)),
		land:    true,
		solHeld: 2_000_000,
	})
	mint := h.listMint(t)
	u := h.update(t, h.buy(t, mint, 1_000_000))
	h.reader.blocked.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Result, 1)
	go func() {
		res, err := h.pipeline.Process(ctx, u)
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case <-h.reader.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("state read never started")
	}
	cancel()

	var res *Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("process did not return after cancel")
	}
	assert.Equal(t, 1, res.Cancelled)
	assert.Empty(t, res.Replications)
	assert.Empty(t, h.relay.Sends())
	assert.Zero(t, h.journal.Len())
	assert.Equal(t, uint64(2_000_000), h.snapshot.Available(domain.WrappedSOL))

	// Redelivery after reconnect is processed normally.
	h.reader.blocked.Store(false)
	again, err := h.pipeline.Process(context.Background(), u)
	require.NoError(t, err)
	assert.False(t, again.Duplicate)
	require.Len(t, again.Replications, 1)
	assert.Equal(t, string(domain.OutcomeConfirmed), again.Replications[0].Outcome)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target wallet is required")
	assert.Contains(t, err.Error(), "seen signature store is required")
}

func TestGroupByMint(t *testing.T) {
	a, b := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	events := []*domain.SwapEvent{
		{Mint: a, InstructionIndex: 0},
		{Mint: b, InstructionIndex: 1},
		{Mint: a, InstructionIndex: 2},
	}
	groups := groupByMint(events)
	require.Len(t, groups, 2)
	assert.Equal(t, a, groups[0].mint)
	assert.Equal(t, []*domain.SwapEvent{events[0], events[2]}, groups[0].events)
	assert.Equal(t, b, groups[1].mint)
}

func TestProjectedView(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	snap := balance.NewSnapshot()
	snap.Set(domain.WrappedSOL, 1_000, 1)
	v := newProjectedView(snap)

	buy := &domain.SwapEvent{Direction: domain.Buy, Mint: mint}
	sell := &domain.SwapEvent{Direction: domain.Sell, Mint: mint}

	v.apply(&domain.ReplicaInstructionSet{Event: buy, Amount: 600, OutBound: 50})
	assert.Equal(t, uint64(400), v.Available(domain.WrappedSOL))
	assert.Equal(t, uint64(50), v.Available(mint))
	h, ok := v.Holding(mint)
	assert.True(t, ok)
	assert.Equal(t, uint64(50), h.Amount)

	v.apply(&domain.ReplicaInstructionSet{Event: sell, Amount: 50, OutBound: 500})
	assert.Zero(t, v.Available(mint))
	assert.Equal(t, uint64(900), v.Available(domain.WrappedSOL))

	// The sell's proceeds arrive after the buy has spent 600.
	assert.Equal(t, map[solana.PublicKey]uint64{domain.WrappedSOL: 600}, v.reservations())
}
