// Package checkpoint persists, per logical witnesser, the last epoch and
// block that witnesser has durably finished processing, so that a restart
// resumes instead of re-witnessing. Correctness does not depend on the
// checkpoint being fresh: the ledger's vote-based consensus is idempotent to
// duplicate witness submissions, so a stale checkpoint only costs redundant
// work.
package checkpoint

// WitnessedUntil is the persisted high-water mark of one witnesser identity.
// It is monotonically non-decreasing in (EpochIndex, BlockNumber) over the
// lifetime of that identity.
type WitnessedUntil struct {
	EpochIndex  uint32
	BlockNumber uint64
}

// GreaterThan orders checkpoints by epoch, then by block.
func (w WitnessedUntil) GreaterThan(other WitnessedUntil) bool {
	if w.EpochIndex != other.EpochIndex {
		return w.EpochIndex > other.EpochIndex
	}
	return w.BlockNumber > other.BlockNumber
}

// Resume decides whether a vault at the given epoch still needs witnessing
// and, if so, from which block. A persisted epoch index greater than the
// vault's means the vault was already fully witnessed by a later-checkpointed
// run and its subscription is skipped entirely; otherwise witnessing resumes
// from max(activeFromBlock, BlockNumber+1).
func (w WitnessedUntil) Resume(epochIndex uint32, activeFromBlock uint64) (startBlock uint64, needed bool) {
	if w.EpochIndex > epochIndex {
		return 0, false
	}
	start := activeFromBlock
	if w.BlockNumber+1 > start {
		start = w.BlockNumber + 1
	}
	return start, true
}
