// Package pipeline replicates the target wallet's swaps: decode, extract,
// build replicas per mint, assemble, submit and journal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"solana-copy-trader/internal/assembler"
	"solana-copy-trader/internal/balance"
	"solana-copy-trader/internal/discovery"
	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/idhash"
	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/storage"
	"solana-copy-trader/internal/venue"
	"solana-copy-trader/internal/wire"
)

// Replicator builds replica instructions for an event.
type Replicator interface {
	BuildReplica(ctx context.Context, event *domain.SwapEvent, view balance.View, policy domain.SizingPolicy) (*domain.ReplicaInstructionSet, error)
}

// Assembler signs replica instructions into a transaction.
type Assembler interface {
	Assemble(ctx context.Context, set *domain.ReplicaInstructionSet) (*assembler.SignedTransaction, error)
}

// Submitter drives a signed transaction to a terminal outcome.
type Submitter interface {
	Submit(ctx context.Context, tx *assembler.SignedTransaction) *domain.SubmissionResult
}

// Refresher re-reads wallet balances from chain.
type Refresher interface {
	Refresh(ctx context.Context, mints ...solana.PublicKey) error
	RefreshMints(ctx context.Context, mints ...solana.PublicKey) error
}

// Options configures a Pipeline.
type Options struct {
	Target     solana.PublicKey
	Extractor  *discovery.Extractor
	Replicator Replicator
	Assembler  Assembler
	Submitter  Submitter
	Sizing     domain.SizingPolicy

	Snapshot *balance.Snapshot
	Locks    *balance.KeyLock
	// Refresher is optional; without it settled estimates stand until the
	// next external refresh and mints never traded in this process read as
	// empty.
	Refresher Refresher

	Replications storage.ReplicationStore
	Seen         storage.SeenSignatureStore
	// Analytics is optional.
	Analytics storage.SubmissionAnalyticsStore

	Logger logrus.FieldLogger
}

func (o *Options) validate() error {
	var errs []error
	if o.Target.IsZero() {
		errs = append(errs, errors.New("target wallet is required"))
	}
	if o.Extractor == nil {
		errs = append(errs, errors.New("extractor is required"))
	}
	if o.Replicator == nil {
		errs = append(errs, errors.New("replicator is required"))
	}
	if o.Assembler == nil {
		errs = append(errs, errors.New("assembler is required"))
	}
	if o.Submitter == nil {
		errs = append(errs, errors.New("submitter is required"))
	}
	if o.Replications == nil {
		errs = append(errs, errors.New("replication store is required"))
	}
	if o.Seen == nil {
		errs = append(errs, errors.New("seen signature store is required"))
	}
	if err := o.Sizing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("pipeline: %w", errors.Join(errs...))
	}
	return nil
}

// Pipeline processes one RawUpdate at a time. Process is safe for
// concurrent use; updates touching the same mint serialize on its lock.
type Pipeline struct {
	opts    Options
	decoder *wire.Decoder
	logger  logrus.FieldLogger
	now     func() time.Time
}

// New creates a Pipeline. The decoder only resolves instructions of
// programs the extractor has parsers for.
func New(opts Options) (*Pipeline, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Snapshot == nil {
		opts.Snapshot = balance.NewSnapshot()
	}
	if opts.Locks == nil {
		opts.Locks = balance.NewKeyLock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pipeline{
		opts:    opts,
		decoder: wire.NewDecoder(opts.Extractor.Programs()...),
		logger:  logger.WithField("component", "pipeline"),
		now:     time.Now,
	}, nil
}

// Result summarizes one processed update.
type Result struct {
	Signature string
	// Duplicate is set when the signature was already processed.
	Duplicate bool
	Events    []*domain.SwapEvent
	// Replications holds one record per mint group that reached a
	// terminal state, ordered by first instruction index.
	Replications []*domain.Replication
	// Cancelled counts mint groups discarded before assembly because ctx
	// ended.
	Cancelled int
}

// Process replicates the target's swaps in u. Per-event failures are
// journaled and counted. Errors are returned for unreadable envelopes and
// dedup store failures with a nil Result, and for journal write failures
// together with the Result.
func (p *Pipeline) Process(ctx context.Context, u *wire.RawUpdate) (*Result, error) {
	detectedAt := p.now()
	if u != nil && !u.ReceivedAt.IsZero() {
		detectedAt = u.ReceivedAt
	}

	start := time.Now()
	tx, err := p.decoder.Decode(u)
	observability.RecordStageLatency("decode", time.Since(start).Seconds())
	if err != nil {
		observability.RecordDecodeFault("transaction")
		p.logger.WithError(err).Warn("update dropped")
		return nil, fmt.Errorf("decode update: %w", err)
	}
	for _, fault := range tx.Faults {
		observability.RecordDecodeFault("instruction")
		p.logger.WithFields(logrus.Fields{
			"signature": tx.Signature.String(),
			"slot":      tx.Slot,
		}).WithError(fault).Debug("instruction skipped")
	}

	sig := tx.Signature.String()
	logger := p.logger.WithFields(logrus.Fields{"signature": sig, "slot": tx.Slot})
	res := &Result{Signature: sig}

	first, err := p.opts.Seen.MarkSeen(ctx, sig)
	if err != nil {
		logger.WithError(err).Error("dedup check failed")
		return nil, fmt.Errorf("mark %s seen: %w", sig, err)
	}
	if !first {
		observability.RecordDuplicate()
		logger.Debug("duplicate update ignored")
		res.Duplicate = true
		return res, nil
	}

	start = time.Now()
	res.Events = p.opts.Extractor.Extract(tx, p.opts.Target)
	observability.RecordStageLatency("extract", time.Since(start).Seconds())
	if len(res.Events) == 0 {
		logger.Debug("no target swaps")
		return res, nil
	}

	groups := groupByMint(res.Events)
	var (
		mu         sync.Mutex
		dispatched bool
		g          errgroup.Group
	)
	for _, grp := range groups {
		g.Go(func() error {
			rep, sent, err := p.replicate(ctx, grp, tx.Slot, detectedAt)
			mu.Lock()
			defer mu.Unlock()
			if sent {
				dispatched = true
			}
			if rep == nil {
				res.Cancelled++
				return nil
			}
			res.Replications = append(res.Replications, rep)
			return err
		})
	}
	journalErr := g.Wait()

	sort.Slice(res.Replications, func(i, j int) bool {
		return res.Replications[i].InstructionIdx < res.Replications[j].InstructionIdx
	})

	// A cancelled update that sent nothing may be redelivered after
	// reconnect; let it through then.
	if res.Cancelled > 0 && !dispatched && len(res.Replications) == 0 {
		if err := p.opts.Seen.Forget(context.WithoutCancel(ctx), sig); err != nil {
			logger.WithError(err).Error("forget cancelled signature")
		}
	}
	return res, journalErr
}

// mintGroup is the events of one source transaction on one mint, in
// instruction order.
type mintGroup struct {
	mint   solana.PublicKey
	events []*domain.SwapEvent
}

// groupByMint splits events by mint, keeping first-appearance order of
// mints and instruction order within each.
func groupByMint(events []*domain.SwapEvent) []*mintGroup {
	index := make(map[solana.PublicKey]*mintGroup)
	var out []*mintGroup
	for _, ev := range events {
		grp, ok := index[ev.Mint]
		if !ok {
			grp = &mintGroup{mint: ev.Mint}
			index[ev.Mint] = grp
			out = append(out, grp)
		}
		grp.events = append(grp.events, ev)
	}
	return out
}

// replicate builds, assembles and submits one mint group under the mint's
// lock. It returns a nil record when ctx ended before assembly. sent
// reports whether a signed transaction went to the relay; err is a journal
// write failure.
func (p *Pipeline) replicate(ctx context.Context, grp *mintGroup, observedSlot uint64, detectedAt time.Time) (*domain.Replication, bool, error) {
	head := grp.events[0]
	logger := p.logger.WithFields(logrus.Fields{
		"signature": head.Signature.String(),
		"mint":      grp.mint.String(),
		"venue":     string(head.Venue),
	})

	unlock, err := p.opts.Locks.Lock(ctx, grp.mint)
	if err != nil {
		logger.WithError(err).Info("replication cancelled waiting for mint")
		return nil, false, nil
	}
	defer unlock()

	if err := p.loadHolding(ctx, grp.mint); err != nil {
		if ctx.Err() != nil {
			logger.WithError(err).Info("replication cancelled loading holdings")
			return nil, false, nil
		}
		logger.WithError(err).Warn("token holding unavailable, sizing from snapshot")
	}

	rep := p.newReplication(grp, observedSlot, detectedAt)

	view := newProjectedView(p.opts.Snapshot)
	sets := make([]*domain.ReplicaInstructionSet, 0, len(grp.events))
	start := time.Now()
	for i, ev := range grp.events {
		set, err := p.opts.Replicator.BuildReplica(ctx, ev, view, p.opts.Sizing)
		if err != nil {
			if ctx.Err() != nil {
				logger.WithError(err).Info("replication cancelled before assembly")
				return nil, false, nil
			}
			kind := venue.KindOf(err)
			if kind == "" {
				kind = venue.KindInvalidParams
			}
			observability.RecordAdapterAbort(string(ev.Venue), string(kind))
			logger.WithError(err).WithFields(logrus.Fields{
				"direction":   ev.Direction.String(),
				"instruction": ev.InstructionIndex,
			}).Warn("replica aborted")
			if i == 0 {
				r, jerr := p.finish(ctx, rep.aborted(domain.StageAdapter, err.Error(), p.now()))
				return r, false, jerr
			}
			// Earlier events of the group stand on their own; later ones
			// may depend on the failed one, so they are dropped with it.
			rep.truncate(i, err.Error())
			break
		}
		view.apply(set)
		sets = append(sets, set)
	}
	observability.RecordStageLatency("replica", time.Since(start).Seconds())

	reserved, err := p.reserve(view.reservations())
	if err != nil {
		observability.RecordAdapterAbort(string(head.Venue), string(venue.KindInsufficientBalance))
		logger.WithError(err).Warn("replica aborted")
		r, jerr := p.finish(ctx, rep.aborted(domain.StageAdapter, err.Error(), p.now()))
		return r, false, jerr
	}

	if ctx.Err() != nil {
		p.release(reserved)
		logger.Info("replication cancelled before assembly")
		return nil, false, nil
	}

	merged := domain.Merge(sets...)
	rep.fill(merged)

	stx, err := p.opts.Assembler.Assemble(ctx, merged)
	if err != nil {
		p.release(reserved)
		if ctx.Err() != nil {
			logger.WithError(err).Info("replication cancelled during assembly")
			return nil, false, nil
		}
		logger.WithError(err).Warn("assembly aborted")
		r, jerr := p.finish(ctx, rep.aborted(domain.StageAssembly, err.Error(), p.now()))
		return r, false, jerr
	}

	// A dispatched transaction is followed to its outcome even if the
	// stream goes away.
	submitCtx := context.WithoutCancel(ctx)
	result := p.opts.Submitter.Submit(submitCtx, stx)

	if result.Outcome == domain.OutcomeConfirmed {
		for _, set := range sets {
			p.opts.Snapshot.Settle(set.Event.InputMint(), set.Amount, set.Event.OutputMint(), set.ExpectedOut)
		}
		if p.opts.Refresher != nil {
			if err := p.opts.Refresher.Refresh(submitCtx, grp.mint, domain.WrappedSOL); err != nil {
				logger.WithError(err).Warn("balance refresh after confirmation failed")
			}
		}
	} else {
		p.release(reserved)
	}

	rep.submitted(result, stx.Signature)
	r, jerr := p.finish(ctx, rep)
	return r, true, jerr
}

// loadHolding reads the copy wallet's token account for mint when the
// snapshot has never seen it, so positions held before start are sellable.
func (p *Pipeline) loadHolding(ctx context.Context, mint solana.PublicKey) error {
	if p.opts.Refresher == nil || mint.Equals(domain.WrappedSOL) {
		return nil
	}
	if _, ok := p.opts.Snapshot.Holding(mint); ok {
		return nil
	}
	start := time.Now()
	err := p.opts.Refresher.RefreshMints(ctx, mint)
	observability.RecordStageLatency("holding", time.Since(start).Seconds())
	return err
}

// reserve holds every amount or none.
func (p *Pipeline) reserve(amounts map[solana.PublicKey]uint64) (map[solana.PublicKey]uint64, error) {
	held := make(map[solana.PublicKey]uint64, len(amounts))
	for mint, amount := range amounts {
		if err := p.opts.Snapshot.Reserve(mint, amount); err != nil {
			p.release(held)
			return nil, err
		}
		held[mint] = amount
	}
	return held, nil
}

func (p *Pipeline) release(amounts map[solana.PublicKey]uint64) {
	for mint, amount := range amounts {
		p.opts.Snapshot.Release(mint, amount)
	}
}

// finish journals rep and emits its analytics row. A journal failure is
// returned with the record; analytics failures are only logged.
func (p *Pipeline) finish(ctx context.Context, rep *replication) (*domain.Replication, error) {
	ctx = context.WithoutCancel(ctx)
	r := &rep.Replication
	logger := p.logger.WithFields(logrus.Fields{
		"signature":      r.SourceSignature,
		"mint":           r.Mint,
		"replication_id": r.ReplicationID,
		"outcome":        r.Outcome,
	})

	var journalErr error
	if err := p.opts.Replications.Insert(ctx, r); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			logger.Warn("replication already journaled")
		} else {
			logger.WithError(err).Error("journal replication")
			journalErr = fmt.Errorf("journal replication %s: %w", r.ReplicationID, err)
		}
	}
	if p.opts.Analytics != nil {
		if err := p.opts.Analytics.Record(ctx, r); err != nil {
			logger.WithError(err).Error("record submission analytics")
		}
	}
	return r, journalErr
}

// replication builds the journal record of one group.
type replication struct {
	domain.Replication
	events []*domain.SwapEvent
}

func (p *Pipeline) newReplication(grp *mintGroup, observedSlot uint64, detectedAt time.Time) *replication {
	head := grp.events[0]
	rep := &replication{
		Replication: domain.Replication{
			ReplicationID:   idhash.ComputeReplicationID(head.Signature.String(), head.InstructionIndex, grp.mint.String(), head.Venue),
			SourceSignature: head.Signature.String(),
			InstructionIdx:  head.InstructionIndex,
			Mint:            grp.mint.String(),
			Venue:           head.Venue,
			ObservedSlot:    int64(observedSlot),
			DetectedAt:      detectedAt.UnixMilli(),
		},
	}
	rep.setEvents(grp.events)
	return rep
}

func (r *replication) setEvents(events []*domain.SwapEvent) {
	r.events = events
	r.EventCount = len(events)
	r.TargetAmount = 0
	var dirs []string
	for _, ev := range events {
		r.TargetAmount += ev.InputAmount
		d := ev.Direction.String()
		if len(dirs) == 0 || dirs[len(dirs)-1] != d {
			dirs = append(dirs, d)
		}
	}
	r.Direction = strings.Join(dirs, ",")
}

// truncate keeps the first n events and records why the rest were dropped.
func (r *replication) truncate(n int, reason string) {
	r.TruncatedEvents = len(r.events) - n
	r.TruncatedReason = reason
	r.setEvents(r.events[:n])
}

func (r *replication) fill(set *domain.ReplicaInstructionSet) {
	r.ReplicaAmount = set.Amount
	r.ExpectedOut = set.ExpectedOut
	r.StateSlot = int64(set.StateSlot)
}

func (r *replication) aborted(stage, reason string, at time.Time) *replication {
	r.Stage = stage
	r.Outcome = domain.OutcomeAborted
	r.Reason = reason
	r.ResolvedAt = at.UnixMilli()
	return r
}

func (r *replication) submitted(res *domain.SubmissionResult, sig solana.Signature) {
	r.Stage = domain.StageSubmission
	r.Outcome = string(res.Outcome)
	r.Reason = res.Reason
	r.ReplicaSignature = sig.String()
	r.BundleID = res.BundleID
	if res.Slot != nil {
		slot := int64(*res.Slot)
		r.ConfirmedSlot = &slot
	}
	if !res.SubmittedAt.IsZero() {
		at := res.SubmittedAt.UnixMilli()
		r.SubmittedAt = &at
	}
	r.ResolvedAt = res.ResolvedAt.UnixMilli()
}
