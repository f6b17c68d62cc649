// Package sol instantiates the witnessing pipeline for Solana. Solana has no
// per-block transaction matching here: the source polls the balances of
// registered deposit accounts at each slot, and a deposit is witnessed as an
// observed balance increase.
package sol

import (
	"context"
	"sync"

	"github.com/chainswap/witness"
	"github.com/chainswap/witness/pkg/chainsource"
	"github.com/chainswap/witness/pkg/epochsource"
)

// Pubkey is a 32-byte Solana account key.
type Pubkey [32]byte

// BalanceObservation is one deposit account's balance at a slot.
type BalanceObservation struct {
	Account  Pubkey
	Lamports uint64
}

// Header is a Solana "header": the slot number plus the registered accounts'
// balances observed at that slot.
type Header = chainsource.Header[[32]byte, []BalanceObservation]

// DepositWitness is one observed balance increase on a deposit account.
type DepositWitness struct {
	DepositAccount Pubkey
	Asset          string
	Amount         uint64
}

// ProcessDepositsArgs is the payload of a processDeposits ledger call.
type ProcessDepositsArgs struct {
	Witnesses []DepositWitness
	Slot      uint64
}

// DepositWitnesser witnesses balance increases on registered deposit
// accounts. The previous balances live only in memory: after a restart the
// first observation of each account re-baselines it, and any deposit that
// landed while the process was down is witnessed by the other validators'
// votes.
type DepositWitnesser struct {
	mu       sync.Mutex
	balances map[Pubkey]uint64
}

// NewDepositWitnesser creates the Solana deposit driver.
func NewDepositWitnesser() *DepositWitnesser {
	return &DepositWitnesser{balances: make(map[Pubkey]uint64)}
}

var _ witness.Witnesser[[32]byte, []BalanceObservation] = (*DepositWitnesser)(nil)

func (w *DepositWitnesser) Name() string { return "deposits" }

func (w *DepositWitnesser) ProcessBlock(_ context.Context, _ *epochsource.Vault, header chainsource.Header[[32]byte, []BalanceObservation]) ([]witness.LedgerCall, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var witnesses []DepositWitness
	for _, obs := range header.Data {
		prev, seen := w.balances[obs.Account]
		w.balances[obs.Account] = obs.Lamports
		if !seen || obs.Lamports <= prev {
			continue
		}
		witnesses = append(witnesses, DepositWitness{
			DepositAccount: obs.Account,
			Asset:          "SOL",
			Amount:         obs.Lamports - prev,
		})
	}

	if len(witnesses) == 0 {
		return nil, nil
	}
	return []witness.LedgerCall{{
		Pallet: "SolanaIngressEgress",
		Call:   "processDeposits",
		Args: ProcessDepositsArgs{
			Witnesses: witnesses,
			Slot:      header.Index,
		},
	}}, nil
}
