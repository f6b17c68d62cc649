package witness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainswap/witness/pkg/chainsource"
	"github.com/chainswap/witness/pkg/checkpoint"
	"github.com/chainswap/witness/pkg/epochsource"
)

// witnesserState tracks one driver's checkpoint progress across all of its
// vault sub-pipelines.
type witnesserState[H comparable, D any] struct {
	driver Witnesser[H, D]
	cp     *checkpoint.Checkpointer

	mu     sync.Mutex
	latest checkpoint.WitnessedUntil
}

// snapshot returns the driver's current checkpoint high-water mark.
func (ws *witnesserState[H, D]) snapshot() checkpoint.WitnessedUntil {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.latest
}

// forward pushes a checkpoint update if it advances the high-water mark.
// Sub-pipelines of consecutive vaults run concurrently near a rotation
// boundary and report out of wall-clock order; only strictly greater values
// may reach the flusher, which asserts monotonicity on every flush.
func (ws *witnesserState[H, D]) forward(v checkpoint.WitnessedUntil) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if !v.GreaterThan(ws.latest) {
		return false
	}
	ws.latest = v
	select {
	case ws.cp.Updates() <- v:
	default:
		// The flusher stops consuming once its context is cancelled. The
		// checkpoint is a high-water mark, so a dropped update is recovered
		// by the next one.
	}
	return true
}

// Coordinator runs the witnessing pipeline for one chain: one physical
// source subscription, lag-safety and monotonicity combinators, a fanout
// shared by every vault sub-pipeline, and one checkpointed sub-pipeline per
// (vault, witnesser) pair.
type Coordinator[H comparable, D any] struct {
	chain         string
	source        chainsource.Source[H, D]
	vaults        <-chan *epochsource.Vault
	drivers       []Witnesser[H, D]
	submitter     Submitter
	store         checkpoint.Store
	safetyMargin  uint64
	flushInterval time.Duration
	lggr          *zap.SugaredLogger
	monitoring    Monitoring
	latency       BlockLatencyTracker

	witnessers []*witnesserState[H, D]
	metrics    MetricLabeler
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// Option is the functional option type for Coordinator.
type Option[H comparable, D any] func(*Coordinator[H, D])

// WithChain sets the chain name used for logging, metrics, and the checkpoint
// key namespace.
func WithChain[H comparable, D any](chain string) Option[H, D] {
	return func(c *Coordinator[H, D]) {
		c.chain = chain
	}
}

// WithSource sets the chain source.
func WithSource[H comparable, D any](source chainsource.Source[H, D]) Option[H, D] {
	return func(c *Coordinator[H, D]) {
		c.source = source
	}
}

// WithVaults sets the vault announcement sequence driving subscription
// lifetimes.
func WithVaults[H comparable, D any](vaults <-chan *epochsource.Vault) Option[H, D] {
	return func(c *Coordinator[H, D]) {
		c.vaults = vaults
	}
}

// AddWitnesser registers a driver.
func AddWitnesser[H comparable, D any](w Witnesser[H, D]) Option[H, D] {
	return func(c *Coordinator[H, D]) {
		c.drivers = append(c.drivers, w)
	}
}

// WithSubmitter sets the ledger submission sink.
func WithSubmitter[H comparable, D any](submitter Submitter) Option[H, D] {
	return func(c *Coordinator[H, D]) {
		c.submitter = submitter
	}
}

// WithCheckpointStore sets the shared checkpoint store handle.
func WithCheckpointStore[H comparable, D any](store checkpoint.Store) Option[H, D] {
	return func(c *Coordinator[H, D]) {
		c.store = store
	}
}

// WithSafetyMargin sets the confirmation depth required before a block is
// witnessed. Zero means headers are released as soon as they are observed.
func WithSafetyMargin[H comparable, D any](margin uint64) Option[H, D] {
	return func(c *Coordinator[H, D]) {
		c.safetyMargin = margin
	}
}

// WithCheckpointFlushInterval sets how often dirty checkpoints are persisted.
func WithCheckpointFlushInterval[H comparable, D any](interval time.Duration) Option[H, D] {
	return func(c *Coordinator[H, D]) {
		c.flushInterval = interval
	}
}

// WithLogger sets the logger.
func WithLogger[H comparable, D any](lggr *zap.SugaredLogger) Option[H, D] {
	return func(c *Coordinator[H, D]) {
		c.lggr = lggr
	}
}

// WithMonitoring sets the monitoring implementation.
func WithMonitoring[H comparable, D any](monitoring Monitoring) Option[H, D] {
	return func(c *Coordinator[H, D]) {
		c.monitoring = monitoring
	}
}

// WithBlockLatencyTracker sets the end-to-end latency tracker.
func WithBlockLatencyTracker[H comparable, D any](tracker BlockLatencyTracker) Option[H, D] {
	return func(c *Coordinator[H, D]) {
		c.latency = tracker
	}
}

// NewCoordinator creates a coordinator for one chain.
func NewCoordinator[H comparable, D any](opts ...Option[H, D]) (*Coordinator[H, D], error) {
	c := &Coordinator[H, D]{
		flushInterval: checkpoint.DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid coordinator configuration: %w", err)
	}
	if c.monitoring == nil {
		c.monitoring = NewNoopMonitoring()
	}
	c.lggr = c.lggr.With("component", "Coordinator", "chain", c.chain)
	c.metrics = c.monitoring.Metrics().With("chain", c.chain)
	return c, nil
}

func (c *Coordinator[H, D]) validate() error {
	if c.chain == "" {
		return fmt.Errorf("chain name is required")
	}
	if c.source == nil {
		return fmt.Errorf("chain source is required")
	}
	if c.vaults == nil {
		return fmt.Errorf("vault sequence is required")
	}
	if len(c.drivers) == 0 {
		return fmt.Errorf("at least one witnesser is required")
	}
	if c.submitter == nil {
		return fmt.Errorf("submitter is required")
	}
	if c.store == nil {
		return fmt.Errorf("checkpoint store is required")
	}
	if c.lggr == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// Start begins witnessing. The pipeline runs until ctx is cancelled or Close
// is called.
func (c *Coordinator[H, D]) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("coordinator already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	// One checkpointer per driver, shared by all of its vault sub-pipelines.
	for _, driver := range c.drivers {
		name := c.chain + "/" + driver.Name()
		initial, cp := checkpoint.StartCheckpointing(ctx, name, c.store, c.flushInterval, c.lggr)
		c.witnessers = append(c.witnessers, &witnesserState[H, D]{
			driver: driver,
			cp:     cp,
			latest: initial,
		})
	}

	headers, _ := c.source.Stream(ctx)
	observed := c.observeHeaders(ctx, headers)
	released := chainsource.LagSafety(ctx, c.safetyMargin, observed)
	safe := chainsource.StrictlyMonotonic(ctx, c.countDropped(ctx, released))
	fanout := chainsource.NewFanout(ctx, safe)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runVaultLoop(ctx, fanout)
	}()

	c.running = true
	c.lggr.Infow("coordinator started",
		"safetyMargin", c.safetyMargin,
		"witnessers", len(c.witnessers),
	)
	return nil
}

// Close tears down the pipeline and flushes pending checkpoints.
func (c *Coordinator[H, D]) Close() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator not running")
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	for _, ws := range c.witnessers {
		ws.cp.Close()
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.lggr.Infow("coordinator stopped")
	return nil
}

// observeHeaders taps the raw sequence ahead of the safety combinators to
// record chain-tip metrics, first-seen timestamps, and same-height reorg
// replacements.
func (c *Coordinator[H, D]) observeHeaders(ctx context.Context, in <-chan chainsource.Header[H, D]) <-chan chainsource.Header[H, D] {
	out := make(chan chainsource.Header[H, D])
	go func() {
		defer close(out)
		var (
			lastIndex uint64
			seenAny   bool
		)
		for h := range in {
			if c.latency != nil {
				c.latency.MarkBlockSeen(c.chain, h.Index)
			}
			c.metrics.RecordChainLatestBlock(ctx, int64(h.Index)) // #nosec G115 -- block heights fit in int64
			if seenAny && h.Index == lastIndex {
				c.metrics.IncrementReorgReplacements(ctx)
				c.lggr.Infow("same-height reorg replacement observed", "index", h.Index)
			}
			lastIndex = h.Index
			seenAny = true
			select {
			case out <- h:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// countDropped counts headers the downstream monotonicity filter will drop:
// lag safety may re-release an index after a late replacement, and those
// duplicates are discarded rather than delivered twice.
func (c *Coordinator[H, D]) countDropped(ctx context.Context, in <-chan chainsource.Header[H, D]) <-chan chainsource.Header[H, D] {
	out := make(chan chainsource.Header[H, D])
	go func() {
		defer close(out)
		var (
			maxIndex uint64
			seenAny  bool
		)
		for h := range in {
			if seenAny && h.Index <= maxIndex {
				c.metrics.IncrementHeadersDropped(ctx)
			} else {
				maxIndex = h.Index
				seenAny = true
			}
			select {
			case out <- h:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// runVaultLoop starts one sub-pipeline per (vault, witnesser) pair as vaults
// are announced. A new vault's sub-pipeline begins at its active block
// immediately, regardless of whether the previous vault has finished
// draining.
func (c *Coordinator[H, D]) runVaultLoop(ctx context.Context, fanout *chainsource.Fanout[H, D]) {
	for {
		select {
		case <-ctx.Done():
			return
		case vault, ok := <-c.vaults:
			if !ok {
				return
			}
			for _, ws := range c.witnessers {
				start, needed := ws.snapshot().Resume(vault.EpochIndex, vault.Info.ActiveFromBlock)
				if !needed {
					c.lggr.Infow("skipping vault, already witnessed by a later epoch",
						"witnesser", ws.driver.Name(),
						"epoch", vault.EpochIndex,
					)
					continue
				}
				c.lggr.Infow("starting vault sub-pipeline",
					"witnesser", ws.driver.Name(),
					"epoch", vault.EpochIndex,
					"startBlock", start,
				)
				c.wg.Add(1)
				go func(vault *epochsource.Vault, ws *witnesserState[H, D], start uint64) {
					defer c.wg.Done()
					c.runVaultWitnesser(ctx, fanout, vault, ws, start)
				}(vault, ws, start)
			}
		}
	}
}

func (c *Coordinator[H, D]) runVaultWitnesser(
	ctx context.Context,
	fanout *chainsource.Fanout[H, D],
	vault *epochsource.Vault,
	ws *witnesserState[H, D],
	start uint64,
) {
	sub, cancelSub := fanout.Subscribe()
	defer cancelSub()

	for vh := range epochsource.ChunkedByVault(ctx, vault, start, sub) {
		c.processHeader(ctx, ws, vh)
	}
	c.lggr.Infow("vault sub-pipeline finished",
		"witnesser", ws.driver.Name(),
		"epoch", vault.EpochIndex,
	)
}

// processHeader runs one driver on one header. Fact-extraction and submission
// errors are contained here: they are logged and counted, and never tear down
// the owning subscription. The checkpoint advances either way, since the
// ledger's consensus tolerates a missing vote far better than this node
// stalling on a malformed block.
func (c *Coordinator[H, D]) processHeader(ctx context.Context, ws *witnesserState[H, D], vh epochsource.VaultHeader[H, D]) {
	lggr := c.lggr.With(
		"witnesser", ws.driver.Name(),
		"epoch", vh.Vault.EpochIndex,
		"index", vh.Header.Index,
		"hash", fmt.Sprintf("%v", vh.Header.Hash),
	)

	processStart := time.Now()
	calls, err := ws.driver.ProcessBlock(ctx, vh.Vault, vh.Header)
	c.metrics.RecordBlockProcessingDuration(ctx, time.Since(processStart))
	if err != nil {
		c.metrics.IncrementWitnessErrors(ctx)
		lggr.Errorw("fact extraction failed, skipping block", "error", err)
	}

	for _, call := range calls {
		if err := c.submitter.Submit(ctx, call, vh.Vault.EpochIndex); err != nil {
			c.metrics.IncrementSubmissionErrors(ctx)
			lggr.Errorw("failed to submit witness call",
				"pallet", call.Pallet,
				"call", call.Call,
				"error", err,
			)
			continue
		}
		c.metrics.IncrementCallsSubmitted(ctx)
	}

	if ws.forward(checkpoint.WitnessedUntil{
		EpochIndex:  vh.Vault.EpochIndex,
		BlockNumber: vh.Header.Index,
	}) {
		c.metrics.RecordChainWitnessedBlock(ctx, int64(vh.Header.Index)) // #nosec G115 -- block heights fit in int64
		if c.latency != nil {
			c.latency.TrackWitnessLatency(ctx, c.chain, vh.Header.Index)
		}
	}
	c.metrics.IncrementBlocksWitnessed(ctx)
}
