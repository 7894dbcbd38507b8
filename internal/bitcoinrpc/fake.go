package bitcoinrpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/jkitman/minimint/internal/types"
)

// Fake is a deterministic, in-memory Client for tests.
type Fake struct {
	mu          sync.Mutex
	Height      uint64
	FeeRate     types.FeeRate
	FeeKnown    bool
	Network     *chaincfg.Params
	Hashes      map[uint64]chainhash.Hash
	Blocks      map[chainhash.Hash]*wire.MsgBlock
	Submitted   []*wire.MsgTx
	SubmitError error
}

// NewFake builds an empty Fake for the given network.
func NewFake(network *chaincfg.Params) *Fake {
	return &Fake{
		Network: network,
		Hashes:  make(map[uint64]chainhash.Hash),
		Blocks:  make(map[chainhash.Hash]*wire.MsgBlock),
	}
}

// PushBlock records a block at height and returns its hash, to let
// tests build a small linear chain.
func (f *Fake) PushBlock(height uint64, block *wire.MsgBlock) chainhash.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := block.BlockHash()
	f.Hashes[height] = hash
	f.Blocks[hash] = block
	if height > f.Height {
		f.Height = height
	}
	return hash
}

func (f *Fake) GetBlockHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Height, nil
}

func (f *Fake) GetBlockHash(ctx context.Context, height uint64) (chainhash.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash, ok := f.Hashes[height]
	if !ok {
		return chainhash.Hash{}, fmt.Errorf("bitcoinrpc: fake has no block at height %d", height)
	}
	return hash, nil
}

func (f *Fake) GetBlockHeader(ctx context.Context, hash chainhash.Hash) (*wire.BlockHeader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	block, ok := f.Blocks[hash]
	if !ok {
		return nil, fmt.Errorf("bitcoinrpc: fake has no block %s", hash)
	}
	header := block.Header
	return &header, nil
}

func (f *Fake) GetBlock(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	block, ok := f.Blocks[hash]
	if !ok {
		return nil, fmt.Errorf("bitcoinrpc: fake has no block %s", hash)
	}
	return block, nil
}

func (f *Fake) GetFeeRate(ctx context.Context) (types.FeeRate, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.FeeRate, f.FeeKnown, nil
}

func (f *Fake) SubmitTransaction(ctx context.Context, tx *wire.MsgTx) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitError != nil {
		return f.SubmitError
	}
	f.Submitted = append(f.Submitted, tx)
	return nil
}

func (f *Fake) GetNetwork(ctx context.Context) (*chaincfg.Params, error) {
	return f.Network, nil
}

var _ Client = (*Fake)(nil)
