package chainsource

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// LatestThen applies an asynchronous per-header transform, but if a newer
// header arrives while the transform for an older one is still in flight, the
// stale transform is superseded: a fresh transform starts on the newer header
// and the old one's result is discarded when it eventually completes. The
// in-flight computation is not forcibly interrupted beyond cancelling its
// context; only the currently adopted generation's result is ever delivered.
//
// This keeps the pipeline from falling permanently behind a chain that
// outpaces the transform, at the cost of the transform not running on every
// intermediate header. Transform errors are logged and the header is skipped.
func LatestThen[H comparable, D any, T any](
	ctx context.Context,
	lggr *zap.SugaredLogger,
	in <-chan Header[H, D],
	transform func(context.Context, Header[H, D]) (T, error),
) <-chan T {
	out := make(chan T)
	lggr = lggr.With("component", "LatestThen")

	type result struct {
		generation uint64
		value      T
		err        error
		index      uint64
	}

	go func() {
		defer close(out)

		var (
			generation uint64
			cancelPrev context.CancelFunc
			wg         sync.WaitGroup
		)
		results := make(chan result)
		defer func() {
			if cancelPrev != nil {
				cancelPrev()
			}
			// Detached transforms must not outlive the combinator; they
			// observe their cancelled context and return.
			go func() {
				for range results {
				}
			}()
			wg.Wait()
			close(results)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case h, ok := <-in:
				if !ok {
					return
				}
				generation++
				if cancelPrev != nil {
					// Supersede: detach the previous transform. Its result
					// will arrive carrying a stale generation and be dropped.
					cancelPrev()
				}
				transformCtx, cancel := context.WithCancel(ctx)
				cancelPrev = cancel
				gen := generation
				wg.Add(1)
				go func(h Header[H, D]) {
					defer wg.Done()
					v, err := transform(transformCtx, h)
					select {
					case results <- result{generation: gen, value: v, err: err, index: h.Index}:
					case <-ctx.Done():
					}
				}(h)
			case res := <-results:
				if res.generation != generation {
					continue // superseded
				}
				if res.err != nil {
					lggr.Warnw("transform failed", "index", res.index, "error", res.err)
					continue
				}
				if !send(ctx, out, res.value) {
					return
				}
			}
		}
	}()
	return out
}
