package chainsource

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLatestThen(t *testing.T) {
	lggr := zaptest.NewLogger(t).Sugar()

	t.Run("transforms every header when keeping up", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		in := make(chan Header[uint64, struct{}])
		out := LatestThen(ctx, lggr, in,
			func(_ context.Context, h Header[uint64, struct{}]) (uint64, error) {
				return h.Index * 2, nil
			})

		in <- canonicalHeader(5)
		assert.Equal(t, uint64(10), recvValue(t, out))
		in <- canonicalHeader(6)
		assert.Equal(t, uint64(12), recvValue(t, out))
		close(in)
	})

	t.Run("a newer header supersedes an in-flight transform", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		release := make(chan struct{})
		var started atomic.Int64
		in := make(chan Header[uint64, struct{}])
		out := LatestThen(ctx, lggr, in,
			func(tctx context.Context, h Header[uint64, struct{}]) (uint64, error) {
				started.Add(1)
				select {
				case <-release:
				case <-tctx.Done():
					// Superseded: result is produced but discarded.
				}
				return h.Index, nil
			})

		in <- canonicalHeader(5)
		require.Eventually(t, func() bool { return started.Load() == 1 },
			time.Second, time.Millisecond)

		// Supersede before the first transform completes.
		in <- canonicalHeader(6)
		close(release)

		// Only the adopted generation's result is observed.
		assert.Equal(t, uint64(6), recvValue(t, out))
		select {
		case v := <-out:
			t.Fatalf("stale transform result observed: %d", v)
		case <-time.After(shortGrace):
		}
		close(in)
	})

	t.Run("transform errors skip the header", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		in := make(chan Header[uint64, struct{}])
		out := LatestThen(ctx, lggr, in,
			func(_ context.Context, h Header[uint64, struct{}]) (uint64, error) {
				if h.Index == 5 {
					return 0, assert.AnError
				}
				return h.Index, nil
			})

		in <- canonicalHeader(5)
		in <- canonicalHeader(6)
		assert.Equal(t, uint64(6), recvValue(t, out))
		close(in)
	})
}

func recvValue(t *testing.T, ch <-chan uint64) uint64 {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("value channel closed unexpectedly")
		}
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	panic("unreachable")
}
