package epochsource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func recvVault(t *testing.T, ch <-chan *Vault) *Vault {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("vault channel closed unexpectedly")
		}
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for vault")
	}
	panic("unreachable")
}

func TestEpochSource(t *testing.T) {
	lggr := zaptest.NewLogger(t).Sugar()

	t.Run("announces new current vaults in order", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		feed := make(chan Event)
		src := NewSource(ctx, feed, lggr)

		feed <- Event{Kind: EventNewCurrent, EpochIndex: 3,
			Info: VaultInfo{ActiveFromBlock: 100, AggKey: []byte{1}}}
		v := recvVault(t, src.Vaults())
		assert.Equal(t, uint32(3), v.EpochIndex)
		assert.Equal(t, uint64(100), v.Info.ActiveFromBlock)
		_, historic := v.Historic()
		assert.False(t, historic)
		close(feed)
	})

	t.Run("successor announcement makes the predecessor historic", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		feed := make(chan Event)
		src := NewSource(ctx, feed, lggr)

		feed <- Event{Kind: EventNewCurrent, EpochIndex: 3, Info: VaultInfo{ActiveFromBlock: 100}}
		v3 := recvVault(t, src.Vaults())
		feed <- Event{Kind: EventNewCurrent, EpochIndex: 4, Info: VaultInfo{ActiveFromBlock: 200}}
		v4 := recvVault(t, src.Vaults())

		bound, historic := v3.Historic()
		require.True(t, historic)
		assert.Equal(t, uint64(200), bound)

		_, historic = v4.Historic()
		assert.False(t, historic)

		// Historic is not expired: the predecessor still drains.
		select {
		case <-v3.ExpiredSignal.Done():
			t.Fatal("vault expired prematurely")
		default:
		}
		close(feed)
	})

	t.Run("expired event fires the expired signal", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		feed := make(chan Event)
		src := NewSource(ctx, feed, lggr)

		feed <- Event{Kind: EventNewCurrent, EpochIndex: 3, Info: VaultInfo{ActiveFromBlock: 100}}
		v3 := recvVault(t, src.Vaults())
		feed <- Event{Kind: EventHistoric, EpochIndex: 3, HistoricBound: 200}
		feed <- Event{Kind: EventExpired, EpochIndex: 3}

		select {
		case <-v3.ExpiredSignal.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("expired signal never fired")
		}
		close(feed)
	})

	t.Run("explicit historic event carries its own bound", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		feed := make(chan Event)
		src := NewSource(ctx, feed, lggr)

		feed <- Event{Kind: EventNewCurrent, EpochIndex: 7, Info: VaultInfo{ActiveFromBlock: 500}}
		v := recvVault(t, src.Vaults())
		feed <- Event{Kind: EventHistoric, EpochIndex: 7, HistoricBound: 800}

		require.Eventually(t, func() bool {
			_, historic := v.Historic()
			return historic
		}, 5*time.Second, time.Millisecond)
		bound, _ := v.Historic()
		assert.Equal(t, uint64(800), bound)
		close(feed)
	})

	t.Run("vault channel closes when the feed closes", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		feed := make(chan Event)
		src := NewSource(ctx, feed, lggr)
		close(feed)

		select {
		case _, ok := <-src.Vaults():
			assert.False(t, ok)
		case <-time.After(5 * time.Second):
			t.Fatal("vault channel did not close")
		}
	})
}
