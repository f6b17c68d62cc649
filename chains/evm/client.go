package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chainswap/witness/pkg/chainsource"
)

// Client adapts an Ethereum JSON-RPC endpoint to the header query interface.
// Each header query also pulls the block's logs for the watched contract
// addresses, so downstream drivers only ever see relevant events.
type Client struct {
	ec        *ethclient.Client
	addresses []common.Address
}

// DialClient connects to an Ethereum RPC endpoint. The address list scopes the
// log filter applied to every block; an empty list pulls all logs.
func DialClient(ctx context.Context, rawURL string, addresses []common.Address) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ethereum rpc %q: %w", rawURL, err)
	}
	return &Client{ec: ec, addresses: addresses}, nil
}

var _ chainsource.Client[common.Hash, []ethtypes.Log] = (*Client)(nil)

// BestBlockHeader implements chainsource.Client.
func (c *Client) BestBlockHeader(ctx context.Context) (Header, error) {
	h, err := c.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return Header{}, fmt.Errorf("failed to fetch best header: %w", err)
	}
	return c.headerFrom(ctx, h)
}

// HeaderAtIndex implements chainsource.Client.
func (c *Client) HeaderAtIndex(ctx context.Context, index uint64) (Header, error) {
	h, err := c.ec.HeaderByNumber(ctx, new(big.Int).SetUint64(index))
	if err != nil {
		return Header{}, fmt.Errorf("failed to fetch header %d: %w", index, err)
	}
	return c.headerFrom(ctx, h)
}

func (c *Client) headerFrom(ctx context.Context, h *ethtypes.Header) (Header, error) {
	hash := h.Hash()
	logs, err := c.ec.FilterLogs(ctx, ethereum.FilterQuery{
		BlockHash: &hash,
		Addresses: c.addresses,
	})
	if err != nil {
		return Header{}, fmt.Errorf("failed to fetch logs for block %d: %w", h.Number.Uint64(), err)
	}

	header := Header{
		Index: h.Number.Uint64(),
		Hash:  hash,
		Data:  logs,
	}
	if h.Number.Sign() > 0 {
		parent := h.ParentHash
		header.ParentHash = &parent
	}
	return header, nil
}

// TrackChainState is the chain-tracking report function for an EVM chain. The
// base fee is read from the block header rather than estimated, matching what
// the ledger's fee logic expects.
func (c *Client) TrackChainState(ctx context.Context, _ chainsource.Client[common.Hash, []ethtypes.Log], header Header) (ChainState, error) {
	h, err := c.ec.HeaderByNumber(ctx, new(big.Int).SetUint64(header.Index))
	if err != nil {
		return ChainState{}, fmt.Errorf("failed to fetch header %d: %w", header.Index, err)
	}
	return ChainState{
		BlockHeight: header.Index,
		BaseFeeWei:  h.BaseFee,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.ec.Close()
}
