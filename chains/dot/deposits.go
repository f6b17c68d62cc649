// Package dot instantiates the witnessing pipeline for Polkadot. Deposits
// are balance-transfer events to registered deposit accounts; the block data
// is the already-decoded event list, since Polkadot blocks carry typed
// events rather than raw transactions.
package dot

import (
	"context"
	"fmt"

	"github.com/chainswap/witness"
	"github.com/chainswap/witness/pkg/chainsource"
	"github.com/chainswap/witness/pkg/epochsource"
)

// AccountID is a 32-byte Polkadot account identifier.
type AccountID [32]byte

// TransferEvent is one decoded balances.Transfer event.
type TransferEvent struct {
	From   AccountID
	To     AccountID
	Amount uint64
	// ExtrinsicIndex positions the transfer inside its block.
	ExtrinsicIndex uint32
}

// Header is a Polkadot header carrying the block's transfer events.
type Header = chainsource.Header[[32]byte, []TransferEvent]

// DepositWitness is one observed deposit to a registered account.
type DepositWitness struct {
	DepositAccount AccountID
	Asset          string
	Amount         uint64
	ExtrinsicIndex uint32
}

// ProcessDepositsArgs is the payload of a processDeposits ledger call.
type ProcessDepositsArgs struct {
	Witnesses   []DepositWitness
	BlockHeight uint64
}

// AccountProvider supplies the currently registered deposit accounts,
// consulted per block as channels open and expire.
type AccountProvider interface {
	ActiveAccounts(ctx context.Context) (map[AccountID]struct{}, error)
}

// DepositWitnesser matches transfer events against registered deposit
// accounts.
type DepositWitnesser struct {
	accounts AccountProvider
}

// NewDepositWitnesser creates the Polkadot deposit driver.
func NewDepositWitnesser(accounts AccountProvider) *DepositWitnesser {
	return &DepositWitnesser{accounts: accounts}
}

var _ witness.Witnesser[[32]byte, []TransferEvent] = (*DepositWitnesser)(nil)

func (w *DepositWitnesser) Name() string { return "deposits" }

func (w *DepositWitnesser) ProcessBlock(ctx context.Context, _ *epochsource.Vault, header chainsource.Header[[32]byte, []TransferEvent]) ([]witness.LedgerCall, error) {
	accounts, err := w.accounts.ActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load deposit accounts: %w", err)
	}

	var witnesses []DepositWitness
	for _, ev := range header.Data {
		if _, registered := accounts[ev.To]; !registered {
			continue
		}
		witnesses = append(witnesses, DepositWitness{
			DepositAccount: ev.To,
			Asset:          "DOT",
			Amount:         ev.Amount,
			ExtrinsicIndex: ev.ExtrinsicIndex,
		})
	}

	if len(witnesses) == 0 {
		return nil, nil
	}
	return []witness.LedgerCall{{
		Pallet: "PolkadotIngressEgress",
		Call:   "processDeposits",
		Args: ProcessDepositsArgs{
			Witnesses:   witnesses,
			BlockHeight: header.Index,
		},
	}}, nil
}
