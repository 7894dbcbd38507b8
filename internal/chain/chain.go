// Package chain implements the federation's view of the Bitcoin chain:
// a persisted known-block set advanced with a finality delay, and
// recognition of change outputs belonging to in-flight peg-outs (spec
// §4.B).
package chain

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/jkitman/minimint/internal/bitcoinrpc"
	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/logging"
	"github.com/jkitman/minimint/internal/store"
	"github.com/jkitman/minimint/internal/types"
)

// defaultLookback is how far behind newHeight the follower starts
// resyncing when no RoundConsensus has been written yet.
const defaultLookback = 10

// Follower advances the known-block set and credits change UTXOs as
// they confirm.
type Follower struct {
	store *store.Store
	rpc   bitcoinrpc.Client
	fed   *descriptor.Descriptor
}

// NewFollower builds a Follower over fed's federation descriptor.
func NewFollower(st *store.Store, rpc bitcoinrpc.Client, fed *descriptor.Descriptor) *Follower {
	return &Follower{store: st, rpc: rpc, fed: fed}
}

// TargetHeight is rpc.get_block_height() - finalityDelay, saturating at
// zero (spec §4.B).
func (f *Follower) TargetHeight(ctx context.Context, finalityDelay uint64) (uint64, error) {
	height, err := f.rpc.GetBlockHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: get block height: %w", err)
	}
	if height < finalityDelay {
		return 0, nil
	}
	return height - finalityDelay, nil
}

func (f *Follower) startHeight(ctx context.Context, newHeight uint64) (uint64, error) {
	rc, err := f.store.ReadRoundConsensus(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: read round consensus: %w", err)
	}
	if rc != nil {
		return uint64(rc.BlockHeight), nil
	}
	if newHeight < defaultLookback {
		return 0, nil
	}
	return newHeight - defaultLookback, nil
}

// SyncUpTo advances the follower from its current height through
// newHeight, recognizing change outputs for any PendingTransaction
// whose txid confirms along the way. A new_height below the current
// height is a no-op: the follower never rewinds.
func (f *Follower) SyncUpTo(ctx context.Context, newHeight uint64) error {
	old, err := f.startHeight(ctx, newHeight)
	if err != nil {
		return err
	}
	if newHeight < old {
		logging.Warnf("chain.SyncUpTo: new height %d below current %d, no-op", newHeight, old)
		return nil
	}

	pending, err := f.store.ListPendingTransactions(ctx)
	if err != nil {
		return fmt.Errorf("chain: list pending transactions: %w", err)
	}
	changeScripts, err := f.changeScriptsByTweak(pending)
	if err != nil {
		return err
	}

	for h := old + 1; h <= newHeight; h++ {
		known, err := f.store.HasBlockAtHeight(ctx, h)
		if err != nil {
			return fmt.Errorf("chain: check known block at %d: %w", h, err)
		}
		if known {
			continue
		}
		hash, err := f.rpc.GetBlockHash(ctx, h)
		if err != nil {
			return fmt.Errorf("chain: get block hash at %d: %w", h, err)
		}
		header, err := f.rpc.GetBlockHeader(ctx, hash)
		if err != nil {
			return fmt.Errorf("chain: get block header at %d: %w", h, err)
		}
		if err := f.store.WriteBlockHash(ctx, h, hash, header.MerkleRoot); err != nil {
			return fmt.Errorf("chain: write block hash at %d: %w", h, err)
		}
		logging.Verbosef("chain.SyncUpTo: recorded block %s at height %d", hash, h)

		if len(pending) == 0 {
			continue
		}
		block, err := f.rpc.GetBlock(ctx, hash)
		if err != nil {
			return fmt.Errorf("chain: get block %s: %w", hash, err)
		}
		if err := f.recognizeChange(ctx, block, pending, changeScripts); err != nil {
			return err
		}
	}
	return nil
}

// changeScriptsByTweak computes each pending transaction's tweaked
// change script pubkey, keyed by tweak. Two distinct pending
// transactions sharing a tweak make the script match in
// recognizeChange ambiguous; per spec §9's open question this is
// treated as a fatal invariant violation rather than silently picking
// one.
func (f *Follower) changeScriptsByTweak(pending map[chainhash.Hash]*types.PendingTransaction) (map[descriptor.Tweak][]byte, error) {
	owners := make(map[descriptor.Tweak]chainhash.Hash, len(pending))
	scripts := make(map[descriptor.Tweak][]byte, len(pending))
	for txid, pt := range pending {
		if owner, ok := owners[pt.ChangeTweak]; ok && owner != txid {
			panic(fmt.Sprintf("chain: duplicate change tweak %x shared by pending transactions %s and %s", pt.ChangeTweak, owner, txid))
		}
		owners[pt.ChangeTweak] = txid
		if _, ok := scripts[pt.ChangeTweak]; ok {
			continue
		}
		tweaked, err := f.fed.Tweak(pt.ChangeTweak)
		if err != nil {
			return nil, fmt.Errorf("chain: tweak change descriptor: %w", err)
		}
		script, err := tweaked.ScriptPubKey()
		if err != nil {
			return nil, fmt.Errorf("chain: change script pubkey: %w", err)
		}
		scripts[pt.ChangeTweak] = script
	}
	return scripts, nil
}

// recognizeChange scans block for the txid of any pending transaction
// and, on a match, credits each output whose script equals that
// transaction's tweaked change script as a new SpendableUTXO.
func (f *Follower) recognizeChange(
	ctx context.Context,
	block *wire.MsgBlock,
	pending map[chainhash.Hash]*types.PendingTransaction,
	changeScripts map[descriptor.Tweak][]byte,
) error {
	for _, tx := range block.Transactions {
		txid := tx.TxHash()
		pt, ok := pending[txid]
		if !ok {
			continue
		}
		changeScript := changeScripts[pt.ChangeTweak]
		for index, out := range tx.TxOut {
			if !bytes.Equal(out.PkScript, changeScript) {
				continue
			}
			utxo := types.SpendableUTXO{
				OutPoint:   types.OutPoint{Txid: txid, Index: uint32(index)},
				Tweak:      pt.ChangeTweak,
				AmountSats: uint64(out.Value),
			}
			err := f.store.WriteSpendableUTXO(ctx, utxo)
			if err != nil && err != store.ErrAlreadyClaimed {
				return fmt.Errorf("chain: credit change utxo %s: %w", utxo.OutPoint, err)
			}
			logging.Printf("chain.recognizeChange: credited change utxo %s amount=%d", utxo.OutPoint, utxo.AmountSats)
		}
	}
	return nil
}
