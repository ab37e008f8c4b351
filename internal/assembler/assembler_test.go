package assembler

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/programs"
	rpc "solana-copy-trader/internal/solana"
	"solana-copy-trader/internal/wire"
	"solana-copy-trader/internal/wire/stub"
)

const testBlockhash = "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N"

type keySigner struct{ key solana.PrivateKey }

func (s keySigner) PublicKey() solana.PublicKey { return s.key.PublicKey() }

func (s keySigner) Sign(message []byte) (solana.Signature, error) { return s.key.Sign(message) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptedSource fails the calls whose 1-based index is in fail.
type scriptedSource struct {
	mu    sync.Mutex
	calls int
	fail  map[int]bool
	wait  chan struct{}
}

func (s *scriptedSource) GetLatestBlockhash(ctx context.Context) (*rpc.BlockhashResult, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if s.wait != nil {
		<-s.wait
	}
	if s.fail[n] {
		return nil, assert.AnError
	}
	return &rpc.BlockhashResult{Blockhash: testBlockhash, LastValidBlockHeight: 900, Slot: 800}, nil
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	key       solana.PrivateKey
	clock     *clock
	source    *scriptedSource
	cache     *BlockhashCache
	assembler *Assembler
}

func newFixture(t *testing.T, priority domain.PriorityPolicy, failCalls ...int) *fixture {
	t.Helper()
	f := &fixture{
		key:    solana.NewWallet().PrivateKey,
		clock:  &clock{now: time.Unix(1_700_000_000, 0)},
		source: &scriptedSource{fail: map[int]bool{}},
	}
	for _, n := range failCalls {
		f.source.fail[n] = true
	}
	f.cache = NewBlockhashCache(f.source, time.Second, nil)
	f.cache.now = f.clock.Now

	var err error
	f.assembler, err = New(Options{Signer: keySigner{f.key}, Blockhashes: f.cache, Priority: priority})
	require.NoError(t, err)
	f.assembler.now = f.clock.Now
	return f
}

func (f *fixture) replica(t *testing.T) *domain.ReplicaInstructionSet {
	t.Helper()
	ix, err := stub.PumpFunTrade(f.key.PublicKey(), solana.NewWallet().PublicKey(), domain.Buy, 1_000, 1_000_000)
	require.NoError(t, err)
	return &domain.ReplicaInstructionSet{Instructions: []solana.Instruction{ix}, Amount: 1_000_000}
}

func decode(t *testing.T, raw []byte) *wire.DecodedTransaction {
	t.Helper()
	tx, err := wire.NewDecoder().Decode(&wire.RawUpdate{Data: raw})
	require.NoError(t, err)
	require.Empty(t, tx.Faults)
	return tx
}

func TestAssemble_BudgetInstructionsFirst(t *testing.T) {
	f := newFixture(t, domain.PriorityPolicy{UnitPriceMicroLamports: 5_000, ComputeUnitLimit: 200_000})

	stx, err := f.assembler.Assemble(context.Background(), f.replica(t))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(stx.Raw), MaxTransactionSize)
	assert.Equal(t, uint64(1_000), stx.PriorityFeeLamports)

	tx := decode(t, stx.Raw)
	require.Len(t, tx.Instructions, 3)

	limit := tx.Instructions[0]
	assert.Equal(t, programs.ComputeBudgetProgramID, limit.ProgramID)
	require.Len(t, limit.Data, 5)
	assert.Equal(t, byte(2), limit.Data[0])
	assert.Equal(t, uint32(200_000), binary.LittleEndian.Uint32(limit.Data[1:]))

	price := tx.Instructions[1]
	assert.Equal(t, programs.ComputeBudgetProgramID, price.ProgramID)
	require.Len(t, price.Data, 9)
	assert.Equal(t, byte(3), price.Data[0])
	assert.Equal(t, uint64(5_000), binary.LittleEndian.Uint64(price.Data[1:]))

	assert.Equal(t, programs.PumpFunProgramID, tx.Instructions[2].ProgramID)
	assert.Equal(t, stx.Signature, tx.Signature)
	assert.Equal(t, f.key.PublicKey(), tx.AccountKeys[0])

	msg, err := stx.Tx.Message.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, stx.Signature.Verify(f.key.PublicKey(), msg))
}

func TestAssemble_ZeroPriceOmitsPriceInstruction(t *testing.T) {
	f := newFixture(t, domain.PriorityPolicy{ComputeUnitLimit: 100_000})

	stx, err := f.assembler.Assemble(context.Background(), f.replica(t))
	require.NoError(t, err)
	tx := decode(t, stx.Raw)
	require.Len(t, tx.Instructions, 2)
	assert.Equal(t, programs.ComputeBudgetProgramID, tx.Instructions[0].ProgramID)
	assert.Equal(t, programs.PumpFunProgramID, tx.Instructions[1].ProgramID)
	assert.Zero(t, stx.PriorityFeeLamports)
}

func TestAssemble_SizeExceeded(t *testing.T) {
	f := newFixture(t, domain.DefaultPriorityPolicy())
	set := f.replica(t)
	set.Instructions = append(set.Instructions,
		solana.NewInstruction(programs.PumpFunProgramID, solana.AccountMetaSlice{solana.Meta(f.key.PublicKey()).SIGNER()}, make([]byte, 1_200)))

	_, err := f.assembler.Assemble(context.Background(), set)
	assert.ErrorIs(t, err, ErrSizeExceeded)
	assert.Equal(t, 1, f.source.Calls(), "size errors are not retried")
}

func TestAssemble_StaleBlockhashRefreshedOnce(t *testing.T) {
	// Call 2 (the lazy refetch) fails so the cached hash is served stale;
	// call 3 (the forced refresh) succeeds.
	f := newFixture(t, domain.DefaultPriorityPolicy(), 2)
	_, err := f.cache.Get(context.Background())
	require.NoError(t, err)
	f.clock.Advance(DefaultMaxBlockhashAge + time.Second)

	stx, err := f.assembler.Assemble(context.Background(), f.replica(t))
	require.NoError(t, err)
	assert.Equal(t, 3, f.source.Calls())
	assert.Equal(t, f.clock.Now(), stx.Blockhash.FetchedAt)
}

func TestAssemble_StaleBlockhashRefreshFails(t *testing.T) {
	f := newFixture(t, domain.DefaultPriorityPolicy(), 2, 3)
	_, err := f.cache.Get(context.Background())
	require.NoError(t, err)
	f.clock.Advance(DefaultMaxBlockhashAge + time.Second)

	_, err = f.assembler.Assemble(context.Background(), f.replica(t))
	assert.ErrorIs(t, err, ErrStaleBlockhash)
	assert.Equal(t, 3, f.source.Calls())
}

func TestAssemble_NoBlockhash(t *testing.T) {
	f := newFixture(t, domain.DefaultPriorityPolicy(), 1)
	_, err := f.assembler.Assemble(context.Background(), f.replica(t))
	assert.ErrorIs(t, err, ErrStaleBlockhash)
}

func TestAssemble_RejectsEmptySet(t *testing.T) {
	f := newFixture(t, domain.DefaultPriorityPolicy())
	_, err := f.assembler.Assemble(context.Background(), &domain.ReplicaInstructionSet{})
	assert.Error(t, err)
}

func TestTipTransaction(t *testing.T) {
	f := newFixture(t, domain.DefaultPriorityPolicy())
	primary, err := f.assembler.Assemble(context.Background(), f.replica(t))
	require.NoError(t, err)

	tipAccount := solana.NewWallet().PublicKey()
	tip, err := f.assembler.TipTransaction(primary, tipAccount, 10_000)
	require.NoError(t, err)
	assert.Equal(t, primary.Blockhash.Hash, tip.Tx.Message.RecentBlockhash)
	assert.NotEqual(t, primary.Signature, tip.Signature)

	tx := decode(t, tip.Raw)
	require.Len(t, tx.Instructions, 1)
	ix := tx.Instructions[0]
	assert.Equal(t, programs.SystemProgramID, ix.ProgramID)
	assert.Equal(t, []solana.PublicKey{f.key.PublicKey(), tipAccount}, ix.Accounts)
	require.Len(t, ix.Data, 12)
	assert.Equal(t, uint64(10_000), binary.LittleEndian.Uint64(ix.Data[4:]))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Blockhashes: NewBlockhashCache(&scriptedSource{}, 0, nil)})
	assert.Error(t, err)
	_, err = New(Options{Signer: keySigner{solana.NewWallet().PrivateKey}})
	assert.Error(t, err)

	a, err := New(Options{Signer: keySigner{solana.NewWallet().PrivateKey}, Blockhashes: NewBlockhashCache(&scriptedSource{}, 0, nil)})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultComputeUnitLimit, a.Priority().ComputeUnitLimit)
}
