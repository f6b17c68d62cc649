// Package epochsource tracks the ledger's rotating validator epochs and their
// per-chain vaults, and re-shards a single shared chain-source subscription
// into per-vault sub-sequences scoped to each vault's externally-anchored
// active block range.
package epochsource

import "sync"

// Signal is a one-shot latch carrying a value. It supports exactly one
// transition from unset to set, is idempotently observable, and is never
// reversed. Vaults carry two of them: the historic signal (an exclusive upper
// block bound is now known) and the expired signal (the vault is fully drained
// and its subscription may be torn down).
type Signal[T any] struct {
	mu    sync.Mutex
	ch    chan struct{}
	value T
	fired bool
}

// NewSignal creates an unset Signal.
func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{ch: make(chan struct{})}
}

// SignalledWith creates a Signal that is already set. Used for vaults that
// were already historic when the process started.
func SignalledWith[T any](value T) *Signal[T] {
	s := NewSignal[T]()
	s.Fire(value)
	return s
}

// Fire sets the signal. Only the first call wins; later calls are ignored.
func (s *Signal[T]) Fire(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired {
		return
	}
	s.value = value
	s.fired = true
	close(s.ch)
}

// Done returns a channel that is closed once the signal has fired.
func (s *Signal[T]) Done() <-chan struct{} {
	return s.ch
}

// Value returns the signalled value and whether the signal has fired.
func (s *Signal[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.fired
}
