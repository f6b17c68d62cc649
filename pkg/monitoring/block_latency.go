package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/chainswap/witness"
)

const (
	// DefaultE2ELatencyCacheExpiration bounds how long a first-seen timestamp
	// is kept waiting for its block to clear the safety margin and be
	// witnessed.
	DefaultE2ELatencyCacheExpiration      = 2 * time.Hour
	DefaultE2ELatencyCacheCleanupInterval = 5 * time.Minute
)

type inmemoryBlockLatencyTracker struct {
	lggr       *zap.SugaredLogger
	monitoring witness.Monitoring
	// Timestamp tracking for E2E latency measurement
	firstSeen *cache.Cache
}

// NewBlockLatencyTracker measures the time from a header first entering the
// pipeline to its facts being submitted. Blocks that never get witnessed (a
// reorged-away fork, a torn-down vault) age out of the cache.
func NewBlockLatencyTracker(lggr *zap.SugaredLogger, monitoring witness.Monitoring) witness.BlockLatencyTracker {
	return &inmemoryBlockLatencyTracker{
		lggr:       lggr,
		monitoring: monitoring,
		firstSeen: cache.New(
			DefaultE2ELatencyCacheExpiration,
			DefaultE2ELatencyCacheCleanupInterval,
		),
	}
}

func blockKey(chain string, index uint64) string {
	return fmt.Sprintf("%s/%d", chain, index)
}

func (m *inmemoryBlockLatencyTracker) MarkBlockSeen(chain string, index uint64) {
	key := blockKey(chain, index)

	// Idempotent: a same-height replacement or redelivery keeps the original
	// timestamp, since the block's identity for latency purposes is its
	// height.
	if _, ok := m.firstSeen.Get(key); ok {
		return
	}
	m.firstSeen.SetDefault(key, time.Now())
}

func (m *inmemoryBlockLatencyTracker) TrackWitnessLatency(ctx context.Context, chain string, index uint64) {
	key := blockKey(chain, index)

	rawSeenAt, exists := m.firstSeen.Get(key)
	if !exists {
		return
	}
	seenAt, ok := rawSeenAt.(time.Time)
	if !ok {
		m.lggr.Errorw("invalid timestamp type in latency cache", "chain", chain, "index", index)
		return
	}
	m.monitoring.Metrics().
		With("chain", chain).
		RecordBlockE2ELatency(ctx, time.Since(seenAt))
	m.firstSeen.Delete(key)
}
