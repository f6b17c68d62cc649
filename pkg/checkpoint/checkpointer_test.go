package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testFlushInterval = 10 * time.Millisecond

// failingStore always errors on Load.
type failingStore struct{ *InMemoryStore }

func (f *failingStore) Load(context.Context, string) (*WitnessedUntil, error) {
	return nil, errors.New("disk on fire")
}

// recordingStore counts Puts.
type recordingStore struct {
	*InMemoryStore
	mu   sync.Mutex
	puts []WitnessedUntil
}

func newRecordingStore() *recordingStore {
	return &recordingStore{InMemoryStore: NewInMemoryStore()}
}

func (r *recordingStore) Put(ctx context.Context, name string, value WitnessedUntil) error {
	r.mu.Lock()
	r.puts = append(r.puts, value)
	r.mu.Unlock()
	return r.InMemoryStore.Put(ctx, name, value)
}

func (r *recordingStore) putCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.puts)
}

func TestStartCheckpointing(t *testing.T) {
	lggr := zaptest.NewLogger(t).Sugar()

	t.Run("starts from zero when no checkpoint exists", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		initial, c := StartCheckpointing(ctx, "btc/deposits", NewInMemoryStore(), testFlushInterval, lggr)
		defer c.Close()
		assert.Equal(t, WitnessedUntil{}, initial)
	})

	t.Run("returns the persisted value", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store := NewInMemoryStore()
		require.NoError(t, store.Put(ctx, "btc/deposits", WitnessedUntil{EpochIndex: 3, BlockNumber: 42}))

		initial, c := StartCheckpointing(ctx, "btc/deposits", store, testFlushInterval, lggr)
		defer c.Close()
		assert.Equal(t, WitnessedUntil{EpochIndex: 3, BlockNumber: 42}, initial)
	})

	t.Run("a read failure degrades to zero, never fatal", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		initial, c := StartCheckpointing(ctx, "btc/deposits", &failingStore{NewInMemoryStore()}, testFlushInterval, lggr)
		defer c.Close()
		assert.Equal(t, WitnessedUntil{}, initial)
	})

	t.Run("flushes the latest pushed value on the interval", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store := newRecordingStore()
		_, c := StartCheckpointing(ctx, "btc/deposits", store, testFlushInterval, lggr)
		defer c.Close()

		c.Updates() <- WitnessedUntil{EpochIndex: 1, BlockNumber: 10}
		c.Updates() <- WitnessedUntil{EpochIndex: 1, BlockNumber: 11}
		c.Updates() <- WitnessedUntil{EpochIndex: 1, BlockNumber: 12}

		require.Eventually(t, func() bool {
			v, err := store.Load(ctx, "btc/deposits")
			return err == nil && v != nil && v.BlockNumber == 12
		}, 5*time.Second, time.Millisecond)
	})

	t.Run("unchanged value is not re-flushed", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store := newRecordingStore()
		_, c := StartCheckpointing(ctx, "btc/deposits", store, testFlushInterval, lggr)
		defer c.Close()

		c.Updates() <- WitnessedUntil{EpochIndex: 1, BlockNumber: 10}
		require.Eventually(t, func() bool { return store.putCount() == 1 },
			5*time.Second, time.Millisecond)

		time.Sleep(10 * testFlushInterval)
		assert.Equal(t, 1, store.putCount())
	})

	t.Run("close flushes pending updates", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store := newRecordingStore()
		_, c := StartCheckpointing(ctx, "btc/deposits", store, time.Hour, lggr)

		c.Updates() <- WitnessedUntil{EpochIndex: 2, BlockNumber: 7}
		c.Close()

		v, err := store.Load(ctx, "btc/deposits")
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, WitnessedUntil{EpochIndex: 2, BlockNumber: 7}, *v)
	})
}

func TestMonotonicityAssertion(t *testing.T) {
	t.Run("a regressing flush panics", func(t *testing.T) {
		assert.Panics(t, func() {
			mustBeMonotonic("btc/deposits",
				WitnessedUntil{EpochIndex: 1, BlockNumber: 9},
				WitnessedUntil{EpochIndex: 1, BlockNumber: 10})
		})
	})

	t.Run("an equal flush panics", func(t *testing.T) {
		assert.Panics(t, func() {
			mustBeMonotonic("btc/deposits",
				WitnessedUntil{EpochIndex: 1, BlockNumber: 10},
				WitnessedUntil{EpochIndex: 1, BlockNumber: 10})
		})
	})

	t.Run("an epoch regression panics even with a higher block", func(t *testing.T) {
		assert.Panics(t, func() {
			mustBeMonotonic("btc/deposits",
				WitnessedUntil{EpochIndex: 1, BlockNumber: 500},
				WitnessedUntil{EpochIndex: 2, BlockNumber: 10})
		})
	})

	t.Run("strict progress does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			mustBeMonotonic("btc/deposits",
				WitnessedUntil{EpochIndex: 2, BlockNumber: 0},
				WitnessedUntil{EpochIndex: 1, BlockNumber: 500})
		})
	})
}

func TestWitnessedUntil(t *testing.T) {
	t.Run("GreaterThan orders by epoch then block", func(t *testing.T) {
		assert.True(t, WitnessedUntil{2, 0}.GreaterThan(WitnessedUntil{1, 100}))
		assert.True(t, WitnessedUntil{1, 101}.GreaterThan(WitnessedUntil{1, 100}))
		assert.False(t, WitnessedUntil{1, 100}.GreaterThan(WitnessedUntil{1, 100}))
		assert.False(t, WitnessedUntil{1, 100}.GreaterThan(WitnessedUntil{2, 0}))
	})

	t.Run("Resume skips vaults witnessed by a later epoch", func(t *testing.T) {
		_, needed := WitnessedUntil{EpochIndex: 5, BlockNumber: 10}.Resume(4, 100)
		assert.False(t, needed)
	})

	t.Run("Resume starts at the active block on a fresh epoch", func(t *testing.T) {
		start, needed := WitnessedUntil{EpochIndex: 4, BlockNumber: 90}.Resume(5, 100)
		require.True(t, needed)
		assert.Equal(t, uint64(100), start)
	})

	t.Run("Resume continues past the persisted block", func(t *testing.T) {
		start, needed := WitnessedUntil{EpochIndex: 5, BlockNumber: 150}.Resume(5, 100)
		require.True(t, needed)
		assert.Equal(t, uint64(151), start)
	})

	t.Run("zero value resumes from the active block", func(t *testing.T) {
		start, needed := WitnessedUntil{}.Resume(0, 100)
		require.True(t, needed)
		assert.Equal(t, uint64(100), start)
	})
}
