package evm

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainswap/witness"
	"github.com/chainswap/witness/pkg/chainsource"
	"github.com/chainswap/witness/pkg/epochsource"
)

// aggKeySetTopic is the vault contract's key-rotation event signature. The
// event payload carries the new aggregate key.
var aggKeySetTopic = crypto.Keccak256Hash([]byte("AggKeySetByAggKey(bytes32,bytes32)"))

// VaultWitnesser decodes key-rotation events from the vault contract's logs.
// Witnessing a rotation on the external chain is what lets the ledger finish
// an epoch handover: the old key is proven retired once the new key is set
// on-chain.
type VaultWitnesser struct {
	vaultContract common.Address
}

// NewVaultWitnesser creates the vault event driver for one chain's vault
// contract.
func NewVaultWitnesser(vaultContract common.Address) *VaultWitnesser {
	return &VaultWitnesser{vaultContract: vaultContract}
}

var _ witness.Witnesser[common.Hash, []types.Log] = (*VaultWitnesser)(nil)

func (w *VaultWitnesser) Name() string { return "vault" }

func (w *VaultWitnesser) ProcessBlock(_ context.Context, _ *epochsource.Vault, header chainsource.Header[common.Hash, []types.Log]) ([]witness.LedgerCall, error) {
	var calls []witness.LedgerCall
	for _, log := range header.Data {
		if log.Address != w.vaultContract {
			continue
		}
		if len(log.Topics) == 0 || log.Topics[0] != aggKeySetTopic {
			continue
		}
		calls = append(calls, witness.LedgerCall{
			Pallet: "EthereumVault",
			Call:   "vaultKeyRotated",
			Args: VaultKeyRotatedArgs{
				NewAggKey:   log.Data,
				BlockHeight: header.Index,
				TxHash:      log.TxHash,
			},
		})
	}
	return calls, nil
}

// ChainStateCall wraps a chain state report into its ledger call.
func ChainStateCall(state ChainState) witness.LedgerCall {
	return witness.LedgerCall{
		Pallet: "EthereumChainTracking",
		Call:   "updateChainState",
		Args:   state,
	}
}
