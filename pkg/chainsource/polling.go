package chainsource

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// PollingSource is the simplest adapter: it polls the chain tip at a fixed
// interval and emits every change, including height jumps and same-height hash
// changes. It makes no attempt to fill gaps; use it for consumers that only
// care about the current state of the chain (chain tracking), or put a
// ReorgAwareSource in front of consumers that need every block.
type PollingSource[H comparable, D any] struct {
	client       Client[H, D]
	lggr         *zap.SugaredLogger
	pollInterval time.Duration
}

// NewPollingSource creates a tip-polling source over the given client.
func NewPollingSource[H comparable, D any](
	client Client[H, D],
	pollInterval time.Duration,
	lggr *zap.SugaredLogger,
) *PollingSource[H, D] {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &PollingSource[H, D]{
		client:       client,
		lggr:         lggr.With("component", "PollingSource"),
		pollInterval: pollInterval,
	}
}

// Stream implements Source.
func (s *PollingSource[H, D]) Stream(ctx context.Context) (<-chan Header[H, D], Client[H, D]) {
	out := make(chan Header[H, D])
	go func() {
		defer close(out)
		defer func() {
			if rec := recover(); rec != nil {
				s.lggr.Errorw("recovered from panic in polling loop",
					"panic", rec, "stack", string(debug.Stack()))
			}
		}()

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		var (
			lastHash H
			seen     bool
		)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			best, err := s.client.BestBlockHeader(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.lggr.Warnw("best header fetch failed", "error", err)
				continue
			}
			if seen && best.Hash == lastHash {
				continue
			}
			lastHash = best.Hash
			seen = true
			if !send(ctx, out, best) {
				return
			}
		}
	}()
	return out, s.client
}
