package bundle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"solana-copy-trader/internal/assembler"
	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/observability"
	rpc "solana-copy-trader/internal/solana"
)

// Default submission timing.
const (
	DefaultDeadline     = 60 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultPollRetries  = 3
)

// State is a submission's lifecycle position.
type State string

const (
	StatePending   State = "pending"
	StateSubmitted State = "submitted"
	StateConfirmed State = "confirmed"
	StateDropped   State = "dropped"
	StateFailed    State = "failed"
)

var transitions = map[State][]State{
	StatePending:   {StateSubmitted, StateFailed},
	StateSubmitted: {StateConfirmed, StateDropped, StateFailed},
}

// SignatureStatusReader is the node RPC subset used to confirm landings.
type SignatureStatusReader interface {
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*rpc.SignatureStatus, error)
}

// TipBuilder signs a tip transfer to accompany a transaction.
type TipBuilder interface {
	TipTransaction(primary *assembler.SignedTransaction, tipAccount solana.PublicKey, lamports uint64) (*assembler.SignedTransaction, error)
}

// Options configures a Submitter.
type Options struct {
	Relay    Relay
	Statuses SignatureStatusReader
	// Tips is required when TipLamports > 0.
	Tips        TipBuilder
	TipLamports uint64

	Deadline     time.Duration
	PollInterval time.Duration
	// PollRetries is how many times one failed status poll is retried
	// before waiting for the next interval.
	PollRetries int

	Logger logrus.FieldLogger
}

// Submitter drives one transaction from Pending to a terminal state. The
// signed bytes are sent once; only confirmation polls are retried.
type Submitter struct {
	relay       Relay
	statuses    SignatureStatusReader
	tips        TipBuilder
	tipLamports uint64
	deadline    time.Duration
	interval    time.Duration
	retries     int
	logger      logrus.FieldLogger
	now         func() time.Time

	nextTip atomic.Uint64
}

// NewSubmitter creates a Submitter.
func NewSubmitter(opts Options) (*Submitter, error) {
	if opts.Relay == nil {
		return nil, fmt.Errorf("bundle: relay is required")
	}
	if opts.Statuses == nil {
		return nil, fmt.Errorf("bundle: signature status reader is required")
	}
	if opts.TipLamports > 0 && opts.Tips == nil {
		return nil, fmt.Errorf("bundle: tip builder is required when tipping")
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollRetries < 0 {
		opts.PollRetries = 0
	} else if opts.PollRetries == 0 {
		opts.PollRetries = DefaultPollRetries
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Submitter{
		relay:       opts.Relay,
		statuses:    opts.Statuses,
		tips:        opts.Tips,
		tipLamports: opts.TipLamports,
		deadline:    opts.Deadline,
		interval:    opts.PollInterval,
		retries:     opts.PollRetries,
		logger:      logger.WithField("component", "submitter"),
		now:         time.Now,
	}, nil
}

// tracker enforces legal state transitions for one submission.
type tracker struct {
	state  State
	logger logrus.FieldLogger
}

func (t *tracker) to(next State) {
	for _, allowed := range transitions[t.state] {
		if allowed == next {
			t.logger.WithFields(logrus.Fields{"from": t.state, "to": next}).Debug("submission state")
			t.state = next
			return
		}
	}
	panic(fmt.Sprintf("bundle: illegal transition %s -> %s", t.state, next))
}

// Submit sends tx and waits for its outcome. It always returns a result;
// the deadline starts at the send.
func (s *Submitter) Submit(ctx context.Context, tx *assembler.SignedTransaction) *domain.SubmissionResult {
	observability.IncInFlight()
	defer observability.DecInFlight()

	sig := tx.Signature
	logger := s.logger.WithField("signature", sig.String())
	tr := &tracker{state: StatePending, logger: logger}
	result := &domain.SubmissionResult{Signature: sig}

	finish := func(state State, outcome domain.Outcome, reason string) *domain.SubmissionResult {
		tr.to(state)
		result.Outcome = outcome
		result.Reason = reason
		result.ResolvedAt = s.now()
		observability.RecordOutcome(string(outcome))
		if outcome == domain.OutcomeConfirmed {
			observability.RecordConfirmationLatency(result.Latency().Seconds())
		}
		logger.WithFields(logrus.Fields{
			"outcome":   outcome,
			"reason":    reason,
			"bundle_id": result.BundleID,
		}).Info("submission resolved")
		return result
	}

	txs := [][]byte{tx.Raw}
	if s.tipLamports > 0 {
		tip, err := s.tipTransaction(ctx, tx)
		if err != nil {
			return finish(StateFailed, domain.OutcomeFailed, err.Error())
		}
		txs = append(txs, tip.Raw)
	}

	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	result.SubmittedAt = s.now()
	bundleID, err := s.relay.SendBundle(ctx, txs)
	if errors.Is(err, ErrRelayRejected) {
		return finish(StateFailed, domain.OutcomeFailed, err.Error())
	}
	tr.to(StateSubmitted)
	if err != nil {
		// The relay may still have the bundle; confirm by signature only.
		logger.WithError(err).Error("bundle send outcome unknown, watching signature")
	}
	result.BundleID = bundleID
	logger.WithField("bundle_id", bundleID).Info("bundle submitted")

	return s.await(ctx, tr, result, finish)
}

type finishFunc func(State, domain.Outcome, string) *domain.SubmissionResult

// await polls until the transaction lands, the relay gives up on it, or
// ctx ends. Nothing is resent.
func (s *Submitter) await(ctx context.Context, tr *tracker, result *domain.SubmissionResult, finish finishFunc) *domain.SubmissionResult {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return finish(StateDropped, domain.OutcomeDropped, "deadline passed without landing")
		case <-ticker.C:
		}

		st, err := s.pollSignature(ctx, result.Signature)
		if err == nil && st != nil {
			if st.Err != nil {
				return finish(StateFailed, domain.OutcomeFailed, fmt.Sprintf("transaction error: %v", st.Err))
			}
			if st.Confirmed() {
				slot := st.Slot
				result.Slot = &slot
				return finish(StateConfirmed, domain.OutcomeConfirmed, "")
			}
		}

		if result.BundleID == "" {
			continue
		}
		bs, err := s.pollBundle(ctx, result.BundleID)
		if err != nil || bs == nil {
			continue
		}
		if bs.Status == BundleFailed {
			return finish(StateDropped, domain.OutcomeDropped, "relay reported bundle failed to land")
		}
	}
}

func (s *Submitter) pollSignature(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatus, error) {
	var st *rpc.SignatureStatus
	err := s.retry(ctx, "signature status", func() error {
		res, err := s.statuses.GetSignatureStatuses(ctx, []string{sig.String()})
		if err != nil {
			return err
		}
		if len(res) > 0 {
			st = res[0]
		}
		return nil
	})
	return st, err
}

func (s *Submitter) pollBundle(ctx context.Context, id string) (*BundleStatus, error) {
	var st *BundleStatus
	err := s.retry(ctx, "bundle status", func() error {
		res, err := s.relay.BundleStatuses(ctx, []string{id})
		if err != nil {
			return err
		}
		if len(res) > 0 {
			st = res[0]
		}
		return nil
	})
	return st, err
}

// retry runs fn up to 1+retries times with a short pause between attempts.
func (s *Submitter) retry(ctx context.Context, what string, fn func() error) error {
	pause := s.interval / 4
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	s.logger.WithError(err).Warnf("%s poll failed after %d attempts", what, s.retries+1)
	return err
}

// tipTransaction signs a tip to the next relay tip account, round robin.
func (s *Submitter) tipTransaction(ctx context.Context, tx *assembler.SignedTransaction) (*assembler.SignedTransaction, error) {
	accounts, err := s.relay.TipAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("tip accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("tip accounts: none available")
	}
	account := accounts[int((s.nextTip.Add(1)-1)%uint64(len(accounts)))]
	tip, err := s.tips.TipTransaction(tx, account, s.tipLamports)
	if err != nil {
		return nil, fmt.Errorf("tip transaction: %w", err)
	}
	return tip, nil
}
