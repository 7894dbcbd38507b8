// Package consensus implements the round-consensus combination rules of
// spec §4.C: folding per-peer proposals into a single agreed-upon
// RoundConsensus, and accumulating peg-out signature contributions onto
// queued UnsignedTransactions.
package consensus

import (
	"fmt"
	"sort"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/types"
)

// roundProposal pairs a peer with its round proposal, kept internal so
// the sort/tie-break logic below owns the only copy of this shape.
type roundProposal struct {
	peer descriptor.PeerID
	item types.RoundConsensusItem
}

func collectRoundProposals(items []types.PeerConsensusItem) []roundProposal {
	var out []roundProposal
	for _, it := range items {
		if it.Item.Round != nil {
			out = append(out, roundProposal{peer: it.Peer, item: *it.Item.Round})
		}
	}
	return out
}

// combineFeeRate is the median of the proposed fee rates, tie-broken
// deterministically by fee rate then peer id, picking the lower of the
// two middle values on an even count (spec §4.C).
func combineFeeRate(proposals []roundProposal) types.FeeRate {
	sorted := sortedByFeeRate(proposals)
	return sorted[medianLowIndex(len(sorted))].item.FeeRate
}

// combineHeight is the median of the proposed heights, using the same
// tie-break. Panics if the result would be less than currentHeight:
// spec §7 marks a shrinking median height as a fatal federation
// invariant violation.
func combineHeight(proposals []roundProposal, currentHeight uint32) uint32 {
	sorted := sortedByHeight(proposals)
	median := sorted[medianLowIndex(len(sorted))].item.BlockHeight
	if median < currentHeight {
		panic(fmt.Sprintf("consensus: median block height %d is less than current consensus height %d: federation broken", median, currentHeight))
	}
	return median
}

// combineRandomness is the bitwise XOR of every peer's 32-byte
// contribution, which is idempotent under reordering (spec §4.C, §8).
func combineRandomness(proposals []roundProposal) [32]byte {
	var out [32]byte
	for _, p := range proposals {
		for i := range out {
			out[i] ^= p.item.RandomnessBeacon[i]
		}
	}
	return out
}

func medianLowIndex(n int) int {
	if n%2 == 1 {
		return n / 2
	}
	return n/2 - 1
}

func sortedByFeeRate(proposals []roundProposal) []roundProposal {
	out := make([]roundProposal, len(proposals))
	copy(out, proposals)
	sort.Slice(out, func(i, j int) bool {
		if out[i].item.FeeRate != out[j].item.FeeRate {
			return out[i].item.FeeRate < out[j].item.FeeRate
		}
		return out[i].peer < out[j].peer
	})
	return out
}

func sortedByHeight(proposals []roundProposal) []roundProposal {
	out := make([]roundProposal, len(proposals))
	copy(out, proposals)
	sort.Slice(out, func(i, j int) bool {
		if out[i].item.BlockHeight != out[j].item.BlockHeight {
			return out[i].item.BlockHeight < out[j].item.BlockHeight
		}
		return out[i].peer < out[j].peer
	})
	return out
}
