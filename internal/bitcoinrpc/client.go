// Package bitcoinrpc defines the narrow view of a Bitcoin node this
// module depends on (spec §1: "treated as a narrow interface") and a
// concrete adapter over btcsuite's rpcclient.
package bitcoinrpc

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/jkitman/minimint/internal/types"
)

// Client is the complete surface this module needs from a Bitcoin
// node: block height, block hash lookup by height, header/body lookup
// by hash, a fee
// estimate, transaction broadcast, and the node's configured network.
type Client interface {
	GetBlockHeight(ctx context.Context) (uint64, error)
	GetBlockHash(ctx context.Context, height uint64) (chainhash.Hash, error)
	GetBlockHeader(ctx context.Context, hash chainhash.Hash) (*wire.BlockHeader, error)
	GetBlock(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error)
	GetFeeRate(ctx context.Context) (types.FeeRate, bool, error)
	SubmitTransaction(ctx context.Context, tx *wire.MsgTx) error
	GetNetwork(ctx context.Context) (*chaincfg.Params, error)
}

// RPCClient adapts btcsuite's rpcclient.Client to the Client interface.
type RPCClient struct {
	rpc     *rpcclient.Client
	network *chaincfg.Params
}

// NewRPCClient dials the node described by cfg. network is the chain
// the federation was configured for; bitcoind does not expose this in
// a form worth round-tripping through RPC, so it is supplied by the
// caller's own configuration (spec §6).
func NewRPCClient(cfg *rpcclient.ConnConfig, network *chaincfg.Params) (*RPCClient, error) {
	rpc, err := rpcclient.New(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("bitcoinrpc: dial: %w", err)
	}
	return &RPCClient{rpc: rpc, network: network}, nil
}

func (c *RPCClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	height, err := c.rpc.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("bitcoinrpc: getblockcount: %w", err)
	}
	if height < 0 {
		return 0, nil
	}
	return uint64(height), nil
}

func (c *RPCClient) GetBlockHash(ctx context.Context, height uint64) (chainhash.Hash, error) {
	hash, err := c.rpc.GetBlockHash(int64(height))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("bitcoinrpc: getblockhash(%d): %w", height, err)
	}
	return *hash, nil
}

func (c *RPCClient) GetBlockHeader(ctx context.Context, hash chainhash.Hash) (*wire.BlockHeader, error) {
	header, err := c.rpc.GetBlockHeader(&hash)
	if err != nil {
		return nil, fmt.Errorf("bitcoinrpc: getblockheader(%s): %w", hash, err)
	}
	return header, nil
}

func (c *RPCClient) GetBlock(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	block, err := c.rpc.GetBlock(&hash)
	if err != nil {
		return nil, fmt.Errorf("bitcoinrpc: getblock(%s): %w", hash, err)
	}
	return block, nil
}

func (c *RPCClient) GetFeeRate(ctx context.Context) (types.FeeRate, bool, error) {
	result, err := c.rpc.EstimateSmartFee(6, nil)
	if err != nil {
		return 0, false, fmt.Errorf("bitcoinrpc: estimatesmartfee: %w", err)
	}
	if result.FeeRate == nil {
		return 0, false, nil
	}
	// EstimateSmartFee reports BTC per kvB; convert to sat/vB.
	satPerKvB := *result.FeeRate * 1e8
	return types.FeeRate(satPerKvB / 1000), true, nil
}

func (c *RPCClient) SubmitTransaction(ctx context.Context, tx *wire.MsgTx) error {
	_, err := c.rpc.SendRawTransaction(tx, false)
	if err != nil {
		return fmt.Errorf("bitcoinrpc: sendrawtransaction: %w", err)
	}
	return nil
}

func (c *RPCClient) GetNetwork(ctx context.Context) (*chaincfg.Params, error) {
	return c.network, nil
}
