// Package venue turns a target's swap into the copy wallet's replica
// instructions, one adapter per venue.
package venue

import (
	"context"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"solana-copy-trader/internal/balance"
	"solana-copy-trader/internal/domain"
)

// Adapter builds replica instructions for one venue. It reads fresh state,
// sizes the trade and bounds slippage. It never signs or submits.
type Adapter interface {
	Venue() domain.Venue
	BuildReplica(ctx context.Context, event *domain.SwapEvent, view balance.View, policy domain.SizingPolicy) (*domain.ReplicaInstructionSet, error)
}

// Options configures the built-in adapters.
type Options struct {
	// Owner is the copy wallet. It signs and pays for every replica.
	Owner       solana.PublicKey
	Reader      StateReader
	SlippageBps uint64
	Freshness   Freshness
	Logger      logrus.FieldLogger
}

func (o Options) validate() error {
	if o.Owner.IsZero() {
		return fmt.Errorf("venue: owner is required")
	}
	if o.Reader == nil {
		return fmt.Errorf("venue: state reader is required")
	}
	return ValidateSlippage(o.SlippageBps)
}

func (o Options) logger(v domain.Venue) logrus.FieldLogger {
	l := o.Logger
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithFields(logrus.Fields{"component": "venue", "venue": string(v)})
}

// Registry maps venues to adapters.
type Registry struct {
	adapters map[domain.Venue]Adapter
}

// NewRegistry creates a registry holding adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Venue]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Venue().
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Venue()] = a
}

// Get returns the adapter for v.
func (r *Registry) Get(v domain.Venue) (Adapter, bool) {
	a, ok := r.adapters[v]
	return a, ok
}

// Venues returns registered venues, sorted.
func (r *Registry) Venues() []domain.Venue {
	out := make([]domain.Venue, 0, len(r.adapters))
	for v := range r.adapters {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Require fails when any of venues has no adapter. Used at startup so an
// extractor never emits events nothing can replicate.
func (r *Registry) Require(venues ...domain.Venue) error {
	for _, v := range venues {
		if _, ok := r.adapters[v]; !ok {
			return fmt.Errorf("no adapter registered for venue %q", v)
		}
	}
	return nil
}

// BuildReplica dispatches to the event's venue adapter.
func (r *Registry) BuildReplica(ctx context.Context, event *domain.SwapEvent, view balance.View, policy domain.SizingPolicy) (*domain.ReplicaInstructionSet, error) {
	a, ok := r.adapters[event.Venue]
	if !ok {
		return nil, newError(KindInvalidParams, event.Venue, "no adapter for venue")
	}
	return a.BuildReplica(ctx, event, view, policy)
}
