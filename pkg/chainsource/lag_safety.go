package chainsource

import "context"

// LagSafety converts a chain with probabilistic finality into a feed the rest
// of the pipeline can treat as final: a header at index i is only released
// once at least margin headers with index > i have been observed, and a
// late-arriving same-index replacement overwrites the buffered value before
// release.
//
// LagSafety can re-release an index it has already released if a replacement
// for it arrives afterwards; apply StrictlyMonotonic downstream to make the
// feed exactly-once. A reorg deeper than the margin is not detected here: the
// margin is a probabilistic mitigation, not a correctness guarantee, and a
// superseded block that already satisfied its margin will have been released.
func LagSafety[H comparable, D any](
	ctx context.Context,
	margin uint64,
	in <-chan Header[H, D],
) <-chan Header[H, D] {
	out := make(chan Header[H, D])
	go func() {
		defer close(out)

		// Buffered headers keyed by index, most recent observation wins.
		buffered := make(map[uint64]Header[H, D])
		var (
			lowest  uint64 // lowest buffered index not yet released
			maxSeen uint64
			any     bool
		)

		for {
			var h Header[H, D]
			select {
			case <-ctx.Done():
				return
			case got, ok := <-in:
				if !ok {
					return
				}
				h = got
			}

			buffered[h.Index] = h
			if !any {
				lowest = h.Index
				maxSeen = h.Index
				any = true
			} else {
				if h.Index < lowest {
					// Replacement below the release watermark; re-buffer so
					// the replacement is released again once (re)safe.
					lowest = h.Index
				}
				if h.Index > maxSeen {
					maxSeen = h.Index
				}
			}

			// Release everything whose margin is now satisfied, in index
			// order. Backfilled headers arrive one block at a time, so each
			// passes through this check individually.
			for lowest+margin <= maxSeen {
				if safe, ok := buffered[lowest]; ok {
					delete(buffered, lowest)
					if !send(ctx, out, safe) {
						return
					}
				}
				lowest++
			}
		}
	}()
	return out
}
