package consensus

import (
	"context"
	"fmt"

	"github.com/jkitman/minimint/internal/chain"
	"github.com/jkitman/minimint/internal/logging"
	"github.com/jkitman/minimint/internal/store"
	"github.com/jkitman/minimint/internal/types"
)

// Engine applies each epoch's delivered consensus items: it combines
// round proposals into the new RoundConsensus, advances the chain
// follower to that height, and folds peg-out signature contributions
// onto their queued UnsignedTransactions (spec §4.C).
type Engine struct {
	store    *store.Store
	follower *chain.Follower
}

// NewEngine builds an Engine over st and follower.
func NewEngine(st *store.Store, follower *chain.Follower) *Engine {
	return &Engine{store: st, follower: follower}
}

// Apply combines items into the new RoundConsensus, advances the chain
// follower, writes the new RoundConsensus, and accumulates signature
// contributions. It
// panics if items contains zero round proposals (spec §7, "empty round
// proposals... Fatal") or if the combined height would shrink
// (delegated to combineHeight).
func (e *Engine) Apply(ctx context.Context, items []types.PeerConsensusItem) error {
	proposals := collectRoundProposals(items)
	if len(proposals) == 0 {
		panic("consensus: apply_consensus received zero round proposals")
	}

	current, err := e.store.ReadRoundConsensus(ctx)
	if err != nil {
		return fmt.Errorf("consensus: read round consensus: %w", err)
	}
	var currentHeight uint32
	if current != nil {
		currentHeight = current.BlockHeight
	}

	newHeight := combineHeight(proposals, currentHeight)
	newFeeRate := combineFeeRate(proposals)
	newRandomness := combineRandomness(proposals)

	// Sync while the store still holds the prior RoundConsensus: the
	// follower derives its "old" height by reading it back, so writing
	// the new one first would collapse (old, new] to empty every epoch.
	if err := e.follower.SyncUpTo(ctx, uint64(newHeight)); err != nil {
		return fmt.Errorf("consensus: sync chain follower: %w", err)
	}

	rc := &types.RoundConsensus{
		BlockHeight:      newHeight,
		FeeRate:          newFeeRate,
		RandomnessBeacon: newRandomness,
	}
	if err := e.store.WriteRoundConsensus(ctx, rc); err != nil {
		return fmt.Errorf("consensus: write round consensus: %w", err)
	}
	logging.Printf("consensus.Apply: height=%d fee_rate=%d", newHeight, newFeeRate)

	return e.accumulateSignatures(ctx, items)
}

// accumulateSignatures folds each delivered (peer, PegOutSignatureItem)
// onto its UnsignedTransaction, logging and skipping items for a txid
// with no queued transaction (spec §4.D, "ignoring with a warning if
// unknown").
func (e *Engine) accumulateSignatures(ctx context.Context, items []types.PeerConsensusItem) error {
	for _, it := range items {
		if it.Item.PegOutSignature == nil {
			continue
		}
		sigItem := *it.Item.PegOutSignature
		ut, err := e.store.ReadUnsignedTransaction(ctx, sigItem.Txid)
		if err != nil {
			return fmt.Errorf("consensus: read unsigned transaction %s: %w", sigItem.Txid, err)
		}
		if ut == nil {
			logging.Warnf("consensus.accumulateSignatures: peer %d signed unknown txid %s, ignoring", it.Peer, sigItem.Txid)
			continue
		}
		ut.Signatures = append(ut.Signatures, types.PeerSignature{Peer: it.Peer, Item: sigItem})
		if err := e.store.WriteUnsignedTransaction(ctx, sigItem.Txid, ut); err != nil {
			return fmt.Errorf("consensus: write unsigned transaction %s: %w", sigItem.Txid, err)
		}
	}
	return nil
}
