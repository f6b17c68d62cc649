package chainsource

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is used when a source is constructed with a zero poll
// interval.
const DefaultPollInterval = 2 * time.Second

// ReorgAwareSource is the canonical adapter for chains with probabilistic
// finality and an unreliable tip (Bitcoin being the reference instance). It
// keeps three pieces of state: the last header it yielded (index and hash) and
// the best chain height it knows about. On every wake it either
//
//   - backfills one header (lastYielded+1) when it knows the chain is ahead,
//     without waiting for the timer, or
//   - polls the tip and emits it immediately when the tip is the expected next
//     block or a same-height replacement of the last yielded header, or
//   - records the new best height and schedules backfill when the tip has
//     jumped more than one block ahead.
//
// Multi-block gaps are therefore always filled one header at a time, bounding
// memory and letting downstream safety margins apply per block, while
// single-block progress and same-height reorgs surface with one poll of
// latency.
type ReorgAwareSource[H comparable, D any] struct {
	client       Client[H, D]
	lggr         *zap.SugaredLogger
	pollInterval time.Duration

	// startIndex, when set, positions the source as if it had already yielded
	// startIndex-1, so the first emitted header is startIndex.
	startIndex    uint64
	hasStartIndex bool
}

// ReorgAwareOption configures a ReorgAwareSource.
type ReorgAwareOption[H comparable, D any] func(*ReorgAwareSource[H, D])

// WithStartIndex makes the source begin yielding at the given height instead
// of the chain tip. Used to resume from a checkpoint.
func WithStartIndex[H comparable, D any](index uint64) ReorgAwareOption[H, D] {
	return func(s *ReorgAwareSource[H, D]) {
		s.startIndex = index
		s.hasStartIndex = true
	}
}

// NewReorgAwareSource creates a reorg-aware source over the given client.
func NewReorgAwareSource[H comparable, D any](
	client Client[H, D],
	pollInterval time.Duration,
	lggr *zap.SugaredLogger,
	opts ...ReorgAwareOption[H, D],
) *ReorgAwareSource[H, D] {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	s := &ReorgAwareSource[H, D]{
		client:       client,
		lggr:         lggr.With("component", "ReorgAwareSource"),
		pollInterval: pollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream implements Source.
func (s *ReorgAwareSource[H, D]) Stream(ctx context.Context) (<-chan Header[H, D], Client[H, D]) {
	out := make(chan Header[H, D])
	go s.run(ctx, out)
	return out, s.client
}

// sourceState is the adapter's whole mutable state. Invariant:
// lastYieldedIndex <= bestKnownIndex whenever both are meaningful; the adapter
// never emits an index below lastYieldedIndex except as a same-height
// replacement.
type sourceState[H comparable] struct {
	yielded          bool
	hashKnown        bool
	lastYieldedIndex uint64
	lastYieldedHash  H
	bestKnownIndex   uint64
}

func (s *ReorgAwareSource[H, D]) run(ctx context.Context, out chan<- Header[H, D]) {
	defer close(out)
	defer func() {
		if rec := recover(); rec != nil {
			s.lggr.Errorw("recovered from panic in source loop",
				"panic", rec, "stack", string(debug.Stack()))
		}
	}()

	var st sourceState[H]
	if s.hasStartIndex && s.startIndex > 0 {
		// Pretend startIndex-1 was already yielded so backfill picks up at
		// startIndex once the tip is known. Its hash is unknown, so
		// same-height replacement detection stays off until a real header
		// has been yielded.
		st.yielded = true
		st.lastYieldedIndex = s.startIndex - 1
		st.bestKnownIndex = st.lastYieldedIndex
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if st.yielded && st.bestKnownIndex > st.lastYieldedIndex {
			// Backfill pending: emit exactly one header, then loop without
			// waiting for the timer.
			next := st.lastYieldedIndex + 1
			header, err := s.client.HeaderAtIndex(ctx, next)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.lggr.Warnw("backfill header fetch failed", "index", next, "error", err)
				if !s.sleepTick(ctx, ticker) {
					return
				}
				continue
			}
			st.lastYieldedIndex = header.Index
			st.lastYieldedHash = header.Hash
			st.hashKnown = true
			if !send(ctx, out, header) {
				return
			}
			continue
		}

		if !s.sleepTick(ctx, ticker) {
			return
		}

		best, err := s.client.BestBlockHeader(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.lggr.Warnw("best header fetch failed", "error", err)
			continue
		}

		switch {
		case !st.yielded:
			st.yielded = true
			st.hashKnown = true
			st.lastYieldedIndex = best.Index
			st.lastYieldedHash = best.Hash
			st.bestKnownIndex = best.Index
			if !send(ctx, out, best) {
				return
			}
		case best.Index == st.lastYieldedIndex && !st.hashKnown:
			// Resumed from a checkpoint at the current tip; adopt the tip
			// hash so replacement detection works from here on.
			st.lastYieldedHash = best.Hash
			st.hashKnown = true
		case best.Index == st.lastYieldedIndex && best.Hash != st.lastYieldedHash:
			// Same-height reorg: surface the replacement immediately.
			s.lggr.Infow("same-height reorg detected",
				"index", best.Index, "oldHash", st.lastYieldedHash, "newHash", best.Hash)
			st.lastYieldedHash = best.Hash
			if !send(ctx, out, best) {
				return
			}
		case best.Index == st.lastYieldedIndex+1:
			st.lastYieldedIndex = best.Index
			st.lastYieldedHash = best.Hash
			st.hashKnown = true
			if best.Index > st.bestKnownIndex {
				st.bestKnownIndex = best.Index
			}
			if !send(ctx, out, best) {
				return
			}
		case best.Index > st.lastYieldedIndex+1:
			// The chain jumped ahead; schedule backfill without emitting.
			s.lggr.Debugw("chain ahead of source, scheduling backfill",
				"lastYielded", st.lastYieldedIndex, "best", best.Index)
			st.bestKnownIndex = best.Index
		default:
			// Tip at or below what we already yielded with the same hash:
			// nothing new, wait for the next tick.
		}
	}
}

func (s *ReorgAwareSource[H, D]) sleepTick(ctx context.Context, ticker *time.Ticker) bool {
	select {
	case <-ctx.Done():
		return false
	case <-ticker.C:
		return true
	}
}

func send[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- v:
		return true
	}
}
