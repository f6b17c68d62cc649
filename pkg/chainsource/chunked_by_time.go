package chainsource

import (
	"context"
	"time"
)

// ChunkedByTime downsamples a per-block sequence into a tick-driven sequence
// carrying only the latest known value. Bursts coalesce into one emission and
// unchanged values are skipped, which is what chain-tracking consumers want:
// "current state", not "every block".
func ChunkedByTime[H comparable, D any](
	ctx context.Context,
	period time.Duration,
	in <-chan Header[H, D],
) <-chan Header[H, D] {
	out := make(chan Header[H, D])
	go func() {
		defer close(out)

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		var (
			latest      Header[H, D]
			havePending bool
			lastEmitted H
			emittedAny  bool
		)
		for {
			select {
			case <-ctx.Done():
				return
			case h, ok := <-in:
				if !ok {
					// Flush whatever is pending so a finite input is not
					// silently truncated.
					if havePending && (!emittedAny || latest.Hash != lastEmitted) {
						send(ctx, out, latest)
					}
					return
				}
				latest = h
				havePending = true
			case <-ticker.C:
				if !havePending {
					continue
				}
				if emittedAny && latest.Hash == lastEmitted {
					continue
				}
				if !send(ctx, out, latest) {
					return
				}
				lastEmitted = latest.Hash
				emittedAny = true
			}
		}
	}()
	return out
}
