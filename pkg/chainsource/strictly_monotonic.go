package chainsource

import "context"

// StrictlyMonotonic drops any header whose index is not strictly greater than
// the maximum index seen so far. Applied after LagSafety it guarantees that no
// index is ever delivered twice or out of order to code that cannot itself
// handle reorgs.
func StrictlyMonotonic[H comparable, D any](
	ctx context.Context,
	in <-chan Header[H, D],
) <-chan Header[H, D] {
	out := make(chan Header[H, D])
	go func() {
		defer close(out)
		var (
			maxReleased uint64
			any         bool
		)
		for {
			select {
			case <-ctx.Done():
				return
			case h, ok := <-in:
				if !ok {
					return
				}
				if any && h.Index <= maxReleased {
					continue
				}
				maxReleased = h.Index
				any = true
				if !send(ctx, out, h) {
					return
				}
			}
		}
	}()
	return out
}
