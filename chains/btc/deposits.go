package btc

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/chainswap/witness"
	"github.com/chainswap/witness/pkg/chainsource"
	"github.com/chainswap/witness/pkg/epochsource"
)

// DefaultDustLimit is the minimum output value treated as a deposit, in
// satoshi. Outputs below it match the network's dust threshold and are not
// worth the input cost of sweeping.
const DefaultDustLimit = 546

// AddressProvider supplies the currently registered deposit addresses, keyed
// by raw script pubkey bytes. The set changes as deposit channels open and
// expire, so it is consulted per block.
type AddressProvider interface {
	ActiveAddresses(ctx context.Context) (map[string][]byte, error)
}

// DepositWitnesser matches transaction outputs against registered deposit
// addresses and emits one processDeposits call per block with deposits.
//
// Per transaction, only the largest matching output for each address is
// witnessed: an attacker can cheaply spam many small outputs in one
// transaction, but sweeping them costs us an input each, so the rest are
// ignored.
type DepositWitnesser struct {
	addresses AddressProvider
	dustLimit uint64
}

// NewDepositWitnesser creates the Bitcoin deposit driver. A dustLimit of zero
// means DefaultDustLimit.
func NewDepositWitnesser(addresses AddressProvider, dustLimit uint64) *DepositWitnesser {
	if dustLimit == 0 {
		dustLimit = DefaultDustLimit
	}
	return &DepositWitnesser{addresses: addresses, dustLimit: dustLimit}
}

var _ witness.Witnesser[chainhash.Hash, []Tx] = (*DepositWitnesser)(nil)

func (w *DepositWitnesser) Name() string { return "deposits" }

func (w *DepositWitnesser) ProcessBlock(ctx context.Context, _ *epochsource.Vault, header chainsource.Header[chainhash.Hash, []Tx]) ([]witness.LedgerCall, error) {
	addresses, err := w.addresses.ActiveAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load deposit addresses: %w", err)
	}

	witnesses := depositWitnesses(header.Data, addresses, w.dustLimit)
	if len(witnesses) == 0 {
		return nil, nil
	}
	return []witness.LedgerCall{{
		Pallet: "BitcoinIngressEgress",
		Call:   "processDeposits",
		Args: ProcessDepositsArgs{
			Witnesses:   witnesses,
			BlockHeight: header.Index,
		},
	}}, nil
}

func depositWitnesses(txs []Tx, addresses map[string][]byte, dustLimit uint64) []DepositWitness {
	var witnesses []DepositWitness
	for _, tx := range txs {
		best := make(map[string]DepositWitness)
		for vout, out := range tx.Outputs {
			if out.Value < dustLimit {
				continue
			}
			script, ok := addresses[string(out.ScriptPubKey)]
			if !ok {
				continue
			}
			key := string(out.ScriptPubKey)
			if prev, seen := best[key]; seen && prev.Amount >= out.Value {
				continue
			}
			best[key] = DepositWitness{
				ScriptPubKey: script,
				Asset:        "BTC",
				Amount:       out.Value,
				DepositUtxo:  UtxoID{TxID: tx.TxID, Vout: uint32(vout)}, // #nosec G115 -- vout count is bounded by block size
			}
		}
		for _, deposit := range best {
			witnesses = append(witnesses, deposit)
		}
	}
	return witnesses
}

// TrackChainState is the TrackFunc for Bitcoin chain tracking. The fee rate
// travels in the header data of the tracking source's feed.
func TrackChainState(_ context.Context, _ chainsource.Client[chainhash.Hash, uint64], header chainsource.Header[chainhash.Hash, uint64]) (ChainState, error) {
	return ChainState{BlockHeight: header.Index, FeeRateSatsPerB: header.Data}, nil
}

// ChainStateCall wraps a chain state report into its ledger call.
func ChainStateCall(state ChainState) witness.LedgerCall {
	return witness.LedgerCall{
		Pallet: "BitcoinChainTracking",
		Call:   "updateChainState",
		Args:   state,
	}
}
