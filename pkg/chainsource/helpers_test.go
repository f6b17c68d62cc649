package chainsource

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// shortGrace is how long tests wait before concluding nothing was delivered.
const shortGrace = 50 * time.Millisecond

// Test headers use uint64 hashes like the original's fixtures: hash == index
// on the canonical chain, anything else marks a fork.
func testHeader(index, hash uint64) Header[uint64, struct{}] {
	parent := hash - 1
	return Header[uint64, struct{}]{Index: index, Hash: hash, ParentHash: &parent}
}

func canonicalHeader(index uint64) Header[uint64, struct{}] {
	return testHeader(index, index)
}

// fakeClient is a scriptable chain RPC capability for source tests.
type fakeClient struct {
	mu      sync.Mutex
	best    Header[uint64, struct{}]
	byIndex map[uint64]Header[uint64, struct{}]
	queried []uint64
}

func newFakeClient(best Header[uint64, struct{}]) *fakeClient {
	return &fakeClient{best: best, byIndex: make(map[uint64]Header[uint64, struct{}])}
}

func (c *fakeClient) setBest(h Header[uint64, struct{}]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.best = h
}

func (c *fakeClient) setHeaderAt(h Header[uint64, struct{}]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byIndex[h.Index] = h
}

func (c *fakeClient) queriedIndices() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.queried))
	copy(out, c.queried)
	return out
}

func (c *fakeClient) BestBlockHeader(ctx context.Context) (Header[uint64, struct{}], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.best, nil
}

func (c *fakeClient) HeaderAtIndex(ctx context.Context, index uint64) (Header[uint64, struct{}], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queried = append(c.queried, index)
	h, ok := c.byIndex[index]
	if !ok {
		return Header[uint64, struct{}]{}, fmt.Errorf("no header at index %d", index)
	}
	return h, nil
}

// recvHeader reads one header with a deadline so a broken pipeline fails the
// test instead of hanging it.
func recvHeader(t *testing.T, ch <-chan Header[uint64, struct{}]) Header[uint64, struct{}] {
	t.Helper()
	select {
	case h, ok := <-ch:
		if !ok {
			t.Fatal("header channel closed unexpectedly")
		}
		return h
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for header")
	}
	panic("unreachable")
}

// expectNoHeader asserts nothing is delivered within the grace period.
func expectNoHeader(t *testing.T, ch <-chan Header[uint64, struct{}], grace time.Duration) {
	t.Helper()
	select {
	case h := <-ch:
		t.Fatalf("unexpected header delivered: index=%d hash=%d", h.Index, h.Hash)
	case <-time.After(grace):
	}
}

// feed pushes headers into a fresh channel and closes it.
func feed(headers ...Header[uint64, struct{}]) <-chan Header[uint64, struct{}] {
	ch := make(chan Header[uint64, struct{}], len(headers))
	for _, h := range headers {
		ch <- h
	}
	close(ch)
	return ch
}

// collect drains a channel until it closes.
func collect(t *testing.T, ch <-chan Header[uint64, struct{}]) []Header[uint64, struct{}] {
	t.Helper()
	var out []Header[uint64, struct{}]
	deadline := time.After(5 * time.Second)
	for {
		select {
		case h, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, h)
		case <-deadline:
			t.Fatal("timed out draining channel")
		}
	}
}
