package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	// DefaultFlushInterval bounds checkpoint I/O: updates are coalesced and
	// flushed at most this often.
	DefaultFlushInterval = 10 * time.Second

	// loadMaxElapsed caps the startup read retries before falling back to a
	// zero checkpoint.
	loadMaxElapsed = 15 * time.Second
)

// Checkpointer owns one witnesser's checkpoint: it keeps the latest pushed
// value in memory and flushes it to the store on a fixed interval, skipping
// flushes when nothing changed.
//
// Every flushed value must be strictly greater (by epoch, then by block) than
// the previously flushed one. A regression indicates the pipeline's safety
// invariants were broken upstream and is a programmer error: the flusher
// panics rather than persisting it.
type Checkpointer struct {
	name  string
	store Store
	lggr  *zap.SugaredLogger

	updates chan WitnessedUntil
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// StartCheckpointing loads the persisted checkpoint for name (defaulting to
// zero when absent or unreadable; a read failure is logged, never fatal) and
// starts the background flusher. Callers push a new WitnessedUntil on
// Updates every time they finish processing a block; pushes must be
// non-decreasing.
func StartCheckpointing(
	ctx context.Context,
	name string,
	store Store,
	flushInterval time.Duration,
	lggr *zap.SugaredLogger,
) (WitnessedUntil, *Checkpointer) {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	lggr = lggr.With("component", "Checkpointer", "witnesser", name)

	initial := loadInitial(ctx, name, store, lggr)

	c := &Checkpointer{
		name:    name,
		store:   store,
		lggr:    lggr,
		updates: make(chan WitnessedUntil, 16),
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.flushLoop(ctx, initial, flushInterval)

	return initial, c
}

// Updates is the write-only channel callers push finished blocks into.
func (c *Checkpointer) Updates() chan<- WitnessedUntil {
	return c.updates
}

// Close flushes any pending value and stops the flusher.
func (c *Checkpointer) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func loadInitial(ctx context.Context, name string, store Store, lggr *zap.SugaredLogger) WitnessedUntil {
	value, err := backoff.Retry(ctx, func() (*WitnessedUntil, error) {
		return store.Load(ctx, name)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(loadMaxElapsed))
	if err != nil {
		// Never fatal: the ledger's consensus is idempotent to re-witnessing,
		// so starting from zero only costs redundant submissions.
		lggr.Warnw("failed to load checkpoint, starting from zero", "error", err)
		return WitnessedUntil{}
	}
	if value == nil {
		lggr.Infow("no checkpoint found, starting from zero")
		return WitnessedUntil{}
	}
	lggr.Infow("loaded checkpoint", "epoch", value.EpochIndex, "block", value.BlockNumber)
	return *value
}

// mustBeMonotonic aborts on a checkpoint regression. Flushing a value that is
// not strictly greater than the last flushed one means an upstream safety
// invariant was broken; persisting it would silently claim unwitnessed blocks.
func mustBeMonotonic(name string, next, prev WitnessedUntil) {
	if !next.GreaterThan(prev) {
		panic(fmt.Sprintf(
			"checkpoint regression for %q: attempted flush of (epoch=%d, block=%d) after (epoch=%d, block=%d)",
			name, next.EpochIndex, next.BlockNumber, prev.EpochIndex, prev.BlockNumber))
	}
}

func (c *Checkpointer) flushLoop(ctx context.Context, lastFlushed WitnessedUntil, interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	latest := lastFlushed
	dirty := false

	flush := func(ctx context.Context) {
		if !dirty {
			return
		}
		mustBeMonotonic(c.name, latest, lastFlushed)
		if err := c.store.Put(ctx, c.name, latest); err != nil {
			// Leave dirty so the next tick retries; a store that stays down
			// is surfaced by the process owner, not swallowed here.
			c.lggr.Errorw("failed to flush checkpoint",
				"epoch", latest.EpochIndex, "block", latest.BlockNumber, "error", err)
			return
		}
		c.lggr.Debugw("checkpoint flushed",
			"epoch", latest.EpochIndex, "block", latest.BlockNumber)
		lastFlushed = latest
		dirty = false
	}

	// The final flush runs on its own context: the loop's context being
	// cancelled is exactly when it is needed.
	finalFlush := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		flush(flushCtx)
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return
		case <-c.done:
			// Drain anything pushed before Close, then flush once.
			for {
				select {
				case v := <-c.updates:
					if v != latest {
						latest = v
						dirty = true
					}
				default:
					finalFlush()
					return
				}
			}
		case v := <-c.updates:
			if v != latest {
				latest = v
				dirty = true
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
