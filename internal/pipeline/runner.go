package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"solana-copy-trader/internal/ingestion"
	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/wire"
)

// Runner defaults.
const (
	DefaultReconnectDelay    = 2 * time.Second
	DefaultBlockhashInterval = 2 * time.Second
	DefaultSOLRefresh        = 30 * time.Second
)

// Processor handles one update.
type Processor interface {
	Process(ctx context.Context, u *wire.RawUpdate) (*Result, error)
}

// BlockhashRunner keeps a blockhash warm in the background.
type BlockhashRunner interface {
	Run(ctx context.Context, interval time.Duration)
}

// SOLRefresher re-reads the wallet's lamport balance.
type SOLRefresher interface {
	RefreshSOL(ctx context.Context) error
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Stream    ingestion.Stream
	Processor Processor

	// Blockhashes and Balances are optional background loops.
	Blockhashes       BlockhashRunner
	BlockhashInterval time.Duration
	Balances          SOLRefresher
	SOLRefresh        time.Duration

	ReconnectDelay time.Duration
	// MaxInFlight bounds concurrently processed updates; 0 is unbounded.
	MaxInFlight int

	Logger logrus.FieldLogger
}

// Runner feeds the stream into the pipeline until ctx ends, resubscribing
// when the stream drops.
type Runner struct {
	opts   RunnerOptions
	sem    chan struct{}
	logger logrus.FieldLogger
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Stream == nil {
		return nil, errors.New("runner: stream is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("runner: processor is required")
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.BlockhashInterval <= 0 {
		opts.BlockhashInterval = DefaultBlockhashInterval
	}
	if opts.SOLRefresh <= 0 {
		opts.SOLRefresh = DefaultSOLRefresh
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Runner{opts: opts, logger: logger.WithField("component", "runner")}
	if opts.MaxInFlight > 0 {
		r.sem = make(chan struct{}, opts.MaxInFlight)
	}
	return r, nil
}

// Run blocks until ctx is done and every dispatched update has finished.
func (r *Runner) Run(ctx context.Context) error {
	var background, inflight sync.WaitGroup

	if r.opts.Blockhashes != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			r.opts.Blockhashes.Run(ctx, r.opts.BlockhashInterval)
		}()
	}
	if r.opts.Balances != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			r.refreshSOL(ctx)
		}()
	}

	r.logger.Info("runner started")
	for ctx.Err() == nil {
		// connCtx scopes one subscription; replications still building
		// when it drops are cancelled, dispatched ones run on.
		connCtx, connCancel := context.WithCancel(ctx)
		updates, err := r.opts.Stream.Subscribe(connCtx)
		if err != nil {
			connCancel()
			if ctx.Err() != nil {
				break
			}
			r.logger.WithError(err).Error("subscribe failed")
			r.reconnect(ctx)
			continue
		}
		r.consume(connCtx, updates, &inflight)
		connCancel()
		if ctx.Err() == nil {
			r.logger.Warn("stream closed, resubscribing")
			r.reconnect(ctx)
		}
	}

	r.logger.Info("waiting for in-flight replications")
	inflight.Wait()
	background.Wait()
	r.logger.Info("runner stopped")
	return nil
}

func (r *Runner) consume(ctx context.Context, updates <-chan *wire.RawUpdate, inflight *sync.WaitGroup) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if r.sem != nil {
				select {
				case r.sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				if r.sem != nil {
					defer func() { <-r.sem }()
				}
				if _, err := r.opts.Processor.Process(ctx, u); err != nil {
					r.logger.WithError(err).WithField("slot", u.Slot).Debug("update not processed")
				}
			}()
		}
	}
}

func (r *Runner) reconnect(ctx context.Context) {
	observability.RecordStreamReconnect()
	t := time.NewTimer(r.opts.ReconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (r *Runner) refreshSOL(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SOLRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.opts.Balances.RefreshSOL(ctx); err != nil {
				r.logger.WithError(err).Warn("periodic SOL refresh failed")
			}
		}
	}
}
