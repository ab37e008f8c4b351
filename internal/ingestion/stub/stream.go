// Package stub provides an in-memory ingestion.Stream for tests.
package stub

import (
	"context"
	"sync"

	"solana-copy-trader/internal/wire"
)

// Stream replays queued updates, then stays open until ctx is done or
// Close is called.
type Stream struct {
	mu      sync.Mutex
	ch      chan *wire.RawUpdate
	closed  bool
	Err     error
	started int
}

// NewStream creates a stream holding up to capacity pending updates.
func NewStream(capacity int) *Stream {
	return &Stream{ch: make(chan *wire.RawUpdate, capacity)}
}

// Push queues an update. It blocks when the buffer is full.
func (s *Stream) Push(u *wire.RawUpdate) {
	s.ch <- u
}

// Close ends the stream after queued updates drain.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Subscriptions returns how many times Subscribe was called.
func (s *Stream) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Subscribe implements ingestion.Stream.
func (s *Stream) Subscribe(ctx context.Context) (<-chan *wire.RawUpdate, error) {
	s.mu.Lock()
	s.started++
	err := s.Err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan *wire.RawUpdate)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-s.ch:
				if !ok {
					return
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
