package witness

import (
	"context"
	"time"

	"github.com/chainswap/witness/pkg/chainsource"
	"github.com/chainswap/witness/pkg/epochsource"
)

// Witnesser is the per-driver contract: consume one header in the context of
// the vault whose active range claims it, produce zero or more ledger-facing
// facts.
//
// Drivers must be side-effect-idempotent under at-least-once delivery. The
// checkpoint granularity is "last fully processed block", so a crash mid-block
// can cause a header to be reprocessed on restart, and consecutive vaults
// overlap near a rotation boundary. No internal deduplication is needed beyond
// what the combinators guarantee within one process lifetime.
//
// Thread-safety: ProcessBlock may be called concurrently for different vaults.
type Witnesser[H comparable, D any] interface {
	// Name is the stable checkpoint namespace for this driver on this chain,
	// e.g. "btc/deposits". It must never change across restarts.
	Name() string

	// ProcessBlock extracts witness facts from one header. An error means the
	// facts for this header are lost; it never stops witnessing of subsequent
	// blocks.
	ProcessBlock(ctx context.Context, vault *epochsource.Vault, header chainsource.Header[H, D]) ([]LedgerCall, error)
}

// Submitter hands finished witness facts to the ledger-submission capability.
// Fire-and-forget from the pipeline's perspective: delivery guarantees and
// retries are the collaborator's responsibility.
//
// Thread-safety: Submit must be safe for concurrent calls.
type Submitter interface {
	Submit(ctx context.Context, call LedgerCall, epochIndex uint32) error
}

// Monitoring provides all core monitoring functionality for the pipeline.
type Monitoring interface {
	// Metrics returns the metrics labeler for the pipeline.
	Metrics() MetricLabeler
}

// MetricLabeler provides all metric recording functionality for the pipeline.
type MetricLabeler interface {
	// With returns a new metrics labeler with the given key-value pairs.
	With(keyValues ...string) MetricLabeler

	// Witnessing counters

	// IncrementBlocksWitnessed increments the counter for fully processed blocks.
	IncrementBlocksWitnessed(ctx context.Context)
	// IncrementWitnessErrors increments the counter for contained fact-extraction errors.
	IncrementWitnessErrors(ctx context.Context)
	// IncrementCallsSubmitted increments the counter for submitted ledger calls.
	IncrementCallsSubmitted(ctx context.Context)
	// IncrementSubmissionErrors increments the counter for failed submissions.
	IncrementSubmissionErrors(ctx context.Context)

	// Pipeline health

	// IncrementReorgReplacements increments the counter for same-height reorg replacements.
	IncrementReorgReplacements(ctx context.Context)
	// IncrementHeadersDropped increments the counter for non-monotonic headers dropped.
	IncrementHeadersDropped(ctx context.Context)

	// Latency breakdown

	// RecordBlockE2ELatency records the latency from a header first being seen
	// to its facts being submitted.
	RecordBlockE2ELatency(ctx context.Context, duration time.Duration)
	// RecordBlockProcessingDuration records the duration of one ProcessBlock call.
	RecordBlockProcessingDuration(ctx context.Context, duration time.Duration)
	// RecordStoreQueryDuration records the duration of a checkpoint store operation.
	RecordStoreQueryDuration(ctx context.Context, method string, duration time.Duration)

	// Chain state tracking (for multi-chain monitoring)

	// RecordChainLatestBlock records the latest observed block index for a chain.
	RecordChainLatestBlock(ctx context.Context, blockNum int64)
	// RecordChainWitnessedBlock records the highest fully witnessed block index for a chain.
	RecordChainWitnessedBlock(ctx context.Context, blockNum int64)
}

// BlockLatencyTracker measures end-to-end witness latency per block.
type BlockLatencyTracker interface {
	// MarkBlockSeen records when a header first entered the pipeline.
	// Idempotent: a replacement or redelivery keeps the original timestamp.
	MarkBlockSeen(chain string, index uint64)

	// TrackWitnessLatency records the elapsed time since the block was first
	// seen, if it is still being tracked.
	TrackWitnessLatency(ctx context.Context, chain string, index uint64)
}
