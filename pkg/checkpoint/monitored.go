package checkpoint

import (
	"context"
	"time"
)

// QueryRecorder receives store query timings. Implemented by
// monitoring.Metrics.
type QueryRecorder interface {
	RecordStoreQueryDuration(ctx context.Context, method string, duration time.Duration)
}

var _ Store = (*MonitoredStore)(nil)

// MonitoredStore is a decorator that adds query-duration monitoring to Store
// operations.
type MonitoredStore struct {
	store   Store
	metrics QueryRecorder
}

// NewMonitoredStore wraps a store with the given recorder.
func NewMonitoredStore(store Store, metrics QueryRecorder) *MonitoredStore {
	return &MonitoredStore{store: store, metrics: metrics}
}

// Load implements Store, recording duration under method "loadCheckpoint".
func (m *MonitoredStore) Load(ctx context.Context, name string) (*WitnessedUntil, error) {
	start := time.Now()
	value, err := m.store.Load(ctx, name)
	m.metrics.RecordStoreQueryDuration(ctx, "loadCheckpoint", time.Since(start))
	return value, err
}

// Put implements Store, recording duration under method "putCheckpoint".
func (m *MonitoredStore) Put(ctx context.Context, name string, value WitnessedUntil) error {
	start := time.Now()
	err := m.store.Put(ctx, name, value)
	m.metrics.RecordStoreQueryDuration(ctx, "putCheckpoint", time.Since(start))
	return err
}

// Close implements Store.
func (m *MonitoredStore) Close() error {
	return m.store.Close()
}
