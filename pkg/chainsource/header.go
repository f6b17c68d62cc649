// Package chainsource provides the generic block-header stream primitives the
// witnessing pipeline is built from: source adapters that turn an external
// chain's RPC capability into a lazy header sequence, and the combinators that
// make that sequence safe to consume (lag safety, strict monotonicity, time
// chunking, latest-then).
//
// Header sequences are ordinary channels owned by a producer goroutine. A
// sequence is never terminated by an upstream error; a persistently failing
// RPC manifests as a stalled channel. Reorgs are first class: the same index
// may appear more than once with different hashes, and consumers must treat
// (index, hash) as the identity of a block.
package chainsource

import "context"

// Header is the envelope every stage of the pipeline passes around.
// Index is the chain's block height widened to uint64, Hash is an opaque
// comparable block identifier, and Data carries the stage-specific payload
// (raw block body, decoded logs, fee estimates, ...).
type Header[H comparable, D any] struct {
	Index      uint64
	Hash       H
	ParentHash *H
	Data       D
}

// Client is the point-query half of a chain's RPC capability. The underlying
// client is assumed to retry and reconnect internally; callers treat an error
// as "try again on the next wake", never as fatal.
//
// Implementations must be safe for concurrent use: one client handle is shared
// by every vault sub-pipeline on a chain.
type Client[H comparable, D any] interface {
	// BestBlockHeader returns the chain's current best (tip) header.
	BestBlockHeader(ctx context.Context) (Header[H, D], error)

	// HeaderAtIndex returns the header at the given height on the chain's
	// current best fork. Used for backfill and reorg repair.
	HeaderAtIndex(ctx context.Context, index uint64) (Header[H, D], error)
}

// Source produces a lazy, possibly infinite header sequence plus the client it
// reads from. The sequence is not required to be strictly increasing nor free
// of same-index duplicates; apply LagSafety and StrictlyMonotonic before
// handing it to code that cannot tolerate reorgs.
type Source[H comparable, D any] interface {
	// Stream starts the source. The returned channel is closed only when ctx
	// is cancelled.
	Stream(ctx context.Context) (<-chan Header[H, D], Client[H, D])
}
