package chainsource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanout(t *testing.T) {
	t.Run("every subscriber observes every header", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		in := make(chan Header[uint64, struct{}])
		f := NewFanout[uint64, struct{}](ctx, in)

		a, cancelA := f.Subscribe()
		b, cancelB := f.Subscribe()
		defer cancelA()
		defer cancelB()

		in <- canonicalHeader(5)
		in <- canonicalHeader(6)

		assert.Equal(t, uint64(5), recvHeader(t, a).Index)
		assert.Equal(t, uint64(5), recvHeader(t, b).Index)
		assert.Equal(t, uint64(6), recvHeader(t, a).Index)
		assert.Equal(t, uint64(6), recvHeader(t, b).Index)
	})

	t.Run("cancelled subscriber stops receiving, others continue", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		in := make(chan Header[uint64, struct{}])
		f := NewFanout[uint64, struct{}](ctx, in)

		a, cancelA := f.Subscribe()
		b, cancelB := f.Subscribe()
		defer cancelB()

		in <- canonicalHeader(5)
		recvHeader(t, a)
		recvHeader(t, b)

		cancelA()
		in <- canonicalHeader(6)
		assert.Equal(t, uint64(6), recvHeader(t, b).Index)
	})

	t.Run("subscriber channels close when input ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		in := make(chan Header[uint64, struct{}], 1)
		f := NewFanout[uint64, struct{}](ctx, in)
		a, cancelA := f.Subscribe()
		defer cancelA()

		in <- canonicalHeader(5)
		close(in)

		got := collect(t, a)
		require.Len(t, got, 1)
	})

	t.Run("subscribe after close returns a closed channel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		in := make(chan Header[uint64, struct{}])
		f := NewFanout[uint64, struct{}](ctx, in)
		close(in)

		require.Eventually(t, func() bool {
			ch, _ := f.Subscribe()
			select {
			case _, ok := <-ch:
				return !ok
			default:
				return false
			}
		}, 5*time.Second, time.Millisecond)
	})
}
