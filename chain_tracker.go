package witness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainswap/witness/pkg/chainsource"
	"github.com/chainswap/witness/pkg/epochsource"
)

// TrackFunc derives one chain's "current state" report (latest height, fee
// estimate) from a header, typically by querying the shared client. It runs
// under LatestThen semantics: if a newer header arrives while a report is
// still being derived, the stale derivation is superseded and its result
// discarded.
type TrackFunc[H comparable, D any, T any] func(ctx context.Context, client chainsource.Client[H, D], header chainsource.Header[H, D]) (T, error)

// ChainTracker reports time-chunked current-state facts for one chain. Unlike
// block witnessers it does not care about every block: the per-block sequence
// is downsampled to a tick-driven latest-value sequence, and each report is
// submitted against whatever epoch is current at submission time. No
// checkpoint is kept; a missed report is superseded by the next one.
type ChainTracker[H comparable, D any, T any] struct {
	chain     string
	source    chainsource.Source[H, D]
	epochs    *epochsource.Source
	period    time.Duration
	track     TrackFunc[H, D, T]
	toCall    func(T) LedgerCall
	submitter Submitter
	lggr      *zap.SugaredLogger
	metrics   MetricLabeler

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewChainTracker creates a chain tracking driver.
func NewChainTracker[H comparable, D any, T any](
	chain string,
	source chainsource.Source[H, D],
	epochs *epochsource.Source,
	period time.Duration,
	track TrackFunc[H, D, T],
	toCall func(T) LedgerCall,
	submitter Submitter,
	lggr *zap.SugaredLogger,
	monitoring Monitoring,
) (*ChainTracker[H, D, T], error) {
	if chain == "" {
		return nil, fmt.Errorf("chain name is required")
	}
	if source == nil || epochs == nil || track == nil || toCall == nil || submitter == nil || lggr == nil {
		return nil, fmt.Errorf("invalid chain tracker configuration for %s", chain)
	}
	if period <= 0 {
		return nil, fmt.Errorf("tracking period must be positive for %s", chain)
	}
	if monitoring == nil {
		monitoring = NewNoopMonitoring()
	}
	return &ChainTracker[H, D, T]{
		chain:     chain,
		source:    source,
		epochs:    epochs,
		period:    period,
		track:     track,
		toCall:    toCall,
		submitter: submitter,
		lggr:      lggr.With("component", "ChainTracker", "chain", chain),
		metrics:   monitoring.Metrics().With("chain", chain, "witnesser", "chain-tracking"),
	}, nil
}

// Start begins tracking. Runs until ctx is cancelled or Close is called.
func (t *ChainTracker[H, D, T]) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("chain tracker already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	headers, client := t.source.Stream(ctx)
	chunked := chainsource.ChunkedByTime(ctx, t.period, headers)
	reports := chainsource.LatestThen(ctx, t.lggr, chunked,
		func(ctx context.Context, h chainsource.Header[H, D]) (T, error) {
			return t.track(ctx, client, h)
		})

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx, reports)
	}()

	t.running = true
	t.lggr.Infow("chain tracker started", "period", t.period)
	return nil
}

// Close stops tracking.
func (t *ChainTracker[H, D, T]) Close() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return fmt.Errorf("chain tracker not running")
	}
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()

	t.mu.Lock()
	t.running = false
	t.mu.Unlock()

	t.lggr.Infow("chain tracker stopped")
	return nil
}

func (t *ChainTracker[H, D, T]) run(ctx context.Context, reports <-chan T) {
	for report := range reports {
		vault, ok := t.epochs.Current()
		if !ok {
			// Reports are only meaningful against an active epoch; before
			// the first vault is announced there is nobody to report to.
			t.lggr.Debugw("no current vault, dropping chain state report")
			continue
		}
		call := t.toCall(report)
		if err := t.submitter.Submit(ctx, call, vault.EpochIndex); err != nil {
			t.metrics.IncrementSubmissionErrors(ctx)
			t.lggr.Errorw("failed to submit chain state report",
				"pallet", call.Pallet,
				"call", call.Call,
				"epoch", vault.EpochIndex,
				"error", err,
			)
			continue
		}
		t.metrics.IncrementCallsSubmitted(ctx)
	}
}
