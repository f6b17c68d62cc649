// Package evm instantiates the witnessing pipeline for Ethereum-family
// chains: block hashes and addresses come from go-ethereum, block data is the
// block's event logs, and deposit detection matches ERC-20 transfer events
// against registered deposit addresses.
package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainswap/witness/pkg/chainsource"
)

// Header is an EVM header carrying the block's event logs.
type Header = chainsource.Header[common.Hash, []types.Log]

// DepositWitness is one observed deposit to a registered address.
type DepositWitness struct {
	DepositAddress common.Address
	Asset          string
	Amount         *big.Int
	TxHash         common.Hash
}

// ProcessDepositsArgs is the payload of a processDeposits ledger call.
type ProcessDepositsArgs struct {
	Witnesses   []DepositWitness
	BlockHeight uint64
}

// VaultKeyRotatedArgs is the payload of a vaultKeyRotated ledger call.
type VaultKeyRotatedArgs struct {
	NewAggKey   []byte
	BlockHeight uint64
	TxHash      common.Hash
}

// ChainState is the chain-tracking report for an EVM chain.
type ChainState struct {
	BlockHeight uint64
	BaseFeeWei  *big.Int
}
