package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainswap/witness"
	"github.com/chainswap/witness/pkg/chainsource"
	"github.com/chainswap/witness/pkg/epochsource"
)

// transferTopic is the ERC-20 Transfer(address,address,uint256) event
// signature.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// AddressProvider supplies the currently registered deposit addresses. The
// set changes as deposit channels open and expire, so it is consulted per
// block.
type AddressProvider interface {
	ActiveAddresses(ctx context.Context) (map[common.Address]struct{}, error)
}

// DepositWitnesser matches ERC-20 transfer logs against registered deposit
// addresses and emits one processDeposits call per block with deposits.
type DepositWitnesser struct {
	addresses AddressProvider
	// assets maps supported token contracts to their ledger asset symbols.
	assets map[common.Address]string
}

// NewDepositWitnesser creates the EVM deposit driver.
func NewDepositWitnesser(addresses AddressProvider, assets map[common.Address]string) *DepositWitnesser {
	return &DepositWitnesser{addresses: addresses, assets: assets}
}

var _ witness.Witnesser[common.Hash, []types.Log] = (*DepositWitnesser)(nil)

func (w *DepositWitnesser) Name() string { return "deposits" }

func (w *DepositWitnesser) ProcessBlock(ctx context.Context, _ *epochsource.Vault, header chainsource.Header[common.Hash, []types.Log]) ([]witness.LedgerCall, error) {
	addresses, err := w.addresses.ActiveAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load deposit addresses: %w", err)
	}

	var witnesses []DepositWitness
	for _, log := range header.Data {
		asset, supported := w.assets[log.Address]
		if !supported {
			continue
		}
		if len(log.Topics) != 3 || log.Topics[0] != transferTopic {
			continue
		}
		to := common.BytesToAddress(log.Topics[2].Bytes())
		if _, registered := addresses[to]; !registered {
			continue
		}
		witnesses = append(witnesses, DepositWitness{
			DepositAddress: to,
			Asset:          asset,
			Amount:         new(big.Int).SetBytes(log.Data),
			TxHash:         log.TxHash,
		})
	}

	if len(witnesses) == 0 {
		return nil, nil
	}
	return []witness.LedgerCall{{
		Pallet: "EthereumIngressEgress",
		Call:   "processDeposits",
		Args: ProcessDepositsArgs{
			Witnesses:   witnesses,
			BlockHeight: header.Index,
		},
	}}, nil
}
