// Package btc instantiates the witnessing pipeline for Bitcoin: block hashes
// are chainhash values, block data is the transaction list, and deposit
// detection matches transaction outputs against registered deposit addresses.
package btc

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/chainswap/witness/pkg/chainsource"
)

// TxOut is one transaction output.
type TxOut struct {
	Value        uint64
	ScriptPubKey []byte
}

// Tx is the slice of a Bitcoin transaction the deposit witnesser needs.
type Tx struct {
	TxID    chainhash.Hash
	Outputs []TxOut
}

// Header is a Bitcoin header carrying the block's transactions.
type Header = chainsource.Header[chainhash.Hash, []Tx]

// UtxoID identifies the output a deposit arrived in.
type UtxoID struct {
	TxID chainhash.Hash
	Vout uint32
}

// DepositWitness is one observed deposit to a registered address.
type DepositWitness struct {
	ScriptPubKey []byte
	Asset        string
	Amount       uint64
	DepositUtxo  UtxoID
}

// ProcessDepositsArgs is the payload of a processDeposits ledger call.
type ProcessDepositsArgs struct {
	Witnesses   []DepositWitness
	BlockHeight uint64
}

// ChainState is the chain-tracking report for Bitcoin.
type ChainState struct {
	BlockHeight     uint64
	FeeRateSatsPerB uint64
}
