package btc

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainswap/witness"
	"github.com/chainswap/witness/pkg/epochsource"
)

type staticAddresses struct {
	addrs map[string][]byte
	err   error
}

func (s *staticAddresses) ActiveAddresses(context.Context) (map[string][]byte, error) {
	return s.addrs, s.err
}

func registered(scripts ...[]byte) *staticAddresses {
	addrs := make(map[string][]byte, len(scripts))
	for _, s := range scripts {
		addrs[string(s)] = s
	}
	return &staticAddresses{addrs: addrs}
}

func testVault() *epochsource.Vault {
	return &epochsource.Vault{
		EpochIndex:     1,
		HistoricSignal: epochsource.NewSignal[uint64](),
		ExpiredSignal:  epochsource.NewSignal[struct{}](),
	}
}

func txWith(id byte, outputs ...TxOut) Tx {
	var txid chainhash.Hash
	txid[0] = id
	return Tx{TxID: txid, Outputs: outputs}
}

func blockAt(index uint64, txs ...Tx) Header {
	return Header{Index: index, Data: txs}
}

func depositsFrom(t *testing.T, calls []witness.LedgerCall) ProcessDepositsArgs {
	t.Helper()
	require.Len(t, calls, 1)
	assert.Equal(t, "BitcoinIngressEgress", calls[0].Pallet)
	assert.Equal(t, "processDeposits", calls[0].Call)
	args, ok := calls[0].Args.(ProcessDepositsArgs)
	require.True(t, ok)
	return args
}

func TestDepositWitnesser(t *testing.T) {
	ctx := context.Background()
	depositScript := []byte{0x00, 0x14, 0xaa}
	otherScript := []byte{0x00, 0x14, 0xbb}

	t.Run("witnesses a deposit to a registered address", func(t *testing.T) {
		w := NewDepositWitnesser(registered(depositScript), 0)

		calls, err := w.ProcessBlock(ctx, testVault(), blockAt(100,
			txWith(1, TxOut{Value: 50_000, ScriptPubKey: depositScript}),
		))
		require.NoError(t, err)

		args := depositsFrom(t, calls)
		assert.Equal(t, uint64(100), args.BlockHeight)
		require.Len(t, args.Witnesses, 1)
		assert.Equal(t, uint64(50_000), args.Witnesses[0].Amount)
		assert.Equal(t, "BTC", args.Witnesses[0].Asset)
		assert.Equal(t, uint32(0), args.Witnesses[0].DepositUtxo.Vout)
	})

	t.Run("ignores unregistered addresses", func(t *testing.T) {
		w := NewDepositWitnesser(registered(depositScript), 0)

		calls, err := w.ProcessBlock(ctx, testVault(), blockAt(100,
			txWith(1, TxOut{Value: 50_000, ScriptPubKey: otherScript}),
		))
		require.NoError(t, err)
		assert.Empty(t, calls)
	})

	t.Run("filters dust outputs", func(t *testing.T) {
		w := NewDepositWitnesser(registered(depositScript), 0)

		calls, err := w.ProcessBlock(ctx, testVault(), blockAt(100,
			txWith(1, TxOut{Value: DefaultDustLimit - 1, ScriptPubKey: depositScript}),
		))
		require.NoError(t, err)
		assert.Empty(t, calls)
	})

	t.Run("only the largest output per tx and address is witnessed", func(t *testing.T) {
		// Many small outputs in one tx are an input-cost spam vector.
		w := NewDepositWitnesser(registered(depositScript), 0)

		calls, err := w.ProcessBlock(ctx, testVault(), blockAt(100,
			txWith(1,
				TxOut{Value: 10_000, ScriptPubKey: depositScript},
				TxOut{Value: 90_000, ScriptPubKey: depositScript},
				TxOut{Value: 20_000, ScriptPubKey: depositScript},
			),
		))
		require.NoError(t, err)

		args := depositsFrom(t, calls)
		require.Len(t, args.Witnesses, 1)
		assert.Equal(t, uint64(90_000), args.Witnesses[0].Amount)
		assert.Equal(t, uint32(1), args.Witnesses[0].DepositUtxo.Vout)
	})

	t.Run("separate transactions are witnessed separately", func(t *testing.T) {
		w := NewDepositWitnesser(registered(depositScript), 0)

		calls, err := w.ProcessBlock(ctx, testVault(), blockAt(100,
			txWith(1, TxOut{Value: 10_000, ScriptPubKey: depositScript}),
			txWith(2, TxOut{Value: 20_000, ScriptPubKey: depositScript}),
		))
		require.NoError(t, err)

		args := depositsFrom(t, calls)
		assert.Len(t, args.Witnesses, 2)
	})

	t.Run("address provider failure surfaces as an error", func(t *testing.T) {
		w := NewDepositWitnesser(&staticAddresses{err: errors.New("state query failed")}, 0)

		_, err := w.ProcessBlock(ctx, testVault(), blockAt(100))
		require.Error(t, err)
	})
}

func TestChainStateCall(t *testing.T) {
	call := ChainStateCall(ChainState{BlockHeight: 100, FeeRateSatsPerB: 12})
	assert.Equal(t, "BitcoinChainTracking", call.Pallet)
	assert.Equal(t, ChainState{BlockHeight: 100, FeeRateSatsPerB: 12}, call.Args)
}
