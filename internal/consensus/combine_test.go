package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/types"
)

func proposal(peer descriptor.PeerID, height uint32, feeRate types.FeeRate, beacon byte) roundProposal {
	var b [32]byte
	for i := range b {
		b[i] = beacon
	}
	return roundProposal{peer: peer, item: types.RoundConsensusItem{BlockHeight: height, FeeRate: feeRate, RandomnessBeacon: b}}
}

func TestCombineHeightOddCountMedian(t *testing.T) {
	proposals := []roundProposal{
		proposal(0, 100, 1, 0), proposal(1, 102, 1, 0), proposal(2, 108, 1, 0),
		proposal(3, 110, 1, 0), proposal(4, 115, 1, 0),
	}
	require.Equal(t, uint32(108), combineHeight(proposals, 100))
}

func TestCombineHeightEvenCountPicksLowerMiddle(t *testing.T) {
	proposals := []roundProposal{proposal(0, 105, 1, 0), proposal(1, 106, 1, 0), proposal(2, 107, 1, 0)}
	// Odd count here; verify even count separately below.
	require.Equal(t, uint32(106), combineHeight(proposals, 0))

	evenProposals := []roundProposal{proposal(0, 10, 1, 0), proposal(1, 20, 1, 0)}
	require.Equal(t, uint32(10), combineHeight(evenProposals, 0))
}

func TestCombineHeightShrinkingMedianPanics(t *testing.T) {
	proposals := []roundProposal{proposal(0, 105, 1, 0), proposal(1, 106, 1, 0), proposal(2, 107, 1, 0)}
	require.Panics(t, func() { combineHeight(proposals, 108) })
}

func TestCombineFeeRateTieBreakByPeerID(t *testing.T) {
	proposals := []roundProposal{
		proposal(2, 1, 5, 0), proposal(0, 1, 5, 0), proposal(1, 1, 3, 0),
	}
	// Sorted by fee rate then peer: [1]=3, [0]=5, [2]=5 -> median index 1 -> fee 5 (peer 0)
	require.Equal(t, types.FeeRate(5), combineFeeRate(proposals))
}

func TestCombineRandomnessXOR(t *testing.T) {
	proposals := []roundProposal{
		proposal(0, 1, 1, 0x00), proposal(1, 1, 1, 0xff),
		proposal(2, 1, 1, 0xa5), proposal(3, 1, 1, 0x5a), proposal(4, 1, 1, 0x00),
	}
	got := combineRandomness(proposals)
	var want [32]byte
	for i := range want {
		want[i] = 0x00 ^ 0xff ^ 0xa5 ^ 0x5a ^ 0x00
	}
	require.Equal(t, want, got)
}
