package chainsource

import (
	"context"
	"sync"
)

// subscriberBuffer bounds how far one physical subscription can run ahead of
// its slowest vault consumer before backpressure kicks in.
const subscriberBuffer = 128

type subscriber[H comparable, D any] struct {
	ch   chan Header[H, D]
	done chan struct{}
}

// Fanout shares one physical header sequence between any number of
// subscribers: one chain-source subscription, many vault sub-pipelines. Every
// subscriber observes every header; per-vault range filtering happens on the
// consumer side. Subscribers added after headers have flowed only observe
// subsequent headers.
type Fanout[H comparable, D any] struct {
	mu     sync.Mutex
	subs   map[int]*subscriber[H, D]
	nextID int
	closed bool
}

// NewFanout creates a Fanout consuming the given sequence. The fanout runs
// until in closes or ctx is cancelled, then closes every subscriber channel.
func NewFanout[H comparable, D any](ctx context.Context, in <-chan Header[H, D]) *Fanout[H, D] {
	f := &Fanout[H, D]{subs: make(map[int]*subscriber[H, D])}
	go f.run(ctx, in)
	return f
}

// Subscribe registers a new consumer. The returned cancel function detaches
// the consumer; its channel is closed by the fanout once the detachment is
// observed. Cancel is safe to call more than once.
func (f *Fanout[H, D]) Subscribe() (<-chan Header[H, D], func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := &subscriber[H, D]{
		ch:   make(chan Header[H, D], subscriberBuffer),
		done: make(chan struct{}),
	}
	if f.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { close(sub.done) })
	}
}

func (f *Fanout[H, D]) run(ctx context.Context, in <-chan Header[H, D]) {
	defer func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closed = true
		for id, sub := range f.subs {
			delete(f.subs, id)
			close(sub.ch)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case h, ok := <-in:
			if !ok {
				return
			}
			f.mu.Lock()
			ids := make([]int, 0, len(f.subs))
			targets := make([]*subscriber[H, D], 0, len(f.subs))
			for id, sub := range f.subs {
				ids = append(ids, id)
				targets = append(targets, sub)
			}
			f.mu.Unlock()

			for i, sub := range targets {
				select {
				case <-ctx.Done():
					return
				case <-sub.done:
					f.mu.Lock()
					delete(f.subs, ids[i])
					f.mu.Unlock()
					close(sub.ch)
				case sub.ch <- h:
				}
			}
		}
	}
}
