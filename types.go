// Package witness turns raw, reorg-prone external chain data into safe,
// checkpointed, deduplicated witness facts reported to the ledger under
// vote-based consensus. One Coordinator runs per chain, sharing a single
// physical chain subscription between every vault sub-pipeline and every
// registered witnesser driver.
package witness

// LedgerCall is one witness fact destined for the ledger's submission
// capability. Pallet and Call name the target extrinsic; Args is the
// chain-specific payload, encoded by the submission collaborator. The ledger's
// vote aggregation is idempotent to duplicate submissions of the same fact
// from the same validator, so producing a call twice is safe.
type LedgerCall struct {
	Pallet string
	Call   string
	Args   any
}
