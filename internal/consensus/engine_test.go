package consensus

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/jkitman/minimint/internal/bitcoinrpc"
	"github.com/jkitman/minimint/internal/chain"
	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/store"
	"github.com/jkitman/minimint/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *bitcoinrpc.Fake) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	keys := make(map[descriptor.PeerID]*btcec.PublicKey, 4)
	for i := 0; i < 4; i++ {
		sk, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		keys[descriptor.PeerID(i)] = sk.PubKey()
	}
	fed, err := descriptor.New(keys)
	require.NoError(t, err)

	rpc := bitcoinrpc.NewFake(&chaincfg.RegressionNetParams)
	follower := chain.NewFollower(st, rpc, fed)
	return NewEngine(st, follower), st, rpc
}

// seedBlocks pushes empty blocks at every height in [1, upTo] so
// SyncUpTo has something to fetch when it walks a fresh follower's
// default lookback window.
func seedBlocks(rpc *bitcoinrpc.Fake, upTo uint64) {
	var prev [32]byte
	for h := uint64(1); h <= upTo; h++ {
		block := wire.NewMsgBlock(&wire.BlockHeader{PrevBlock: prev})
		prev = rpc.PushBlock(h, block)
	}
}

func roundItem(peer descriptor.PeerID, height uint32, feeRate types.FeeRate) types.PeerConsensusItem {
	return types.PeerConsensusItem{
		Peer: peer,
		Item: types.ConsensusItem{Round: &types.RoundConsensusItem{BlockHeight: height, FeeRate: feeRate}},
	}
}

func TestEngineApplyWritesRoundConsensus(t *testing.T) {
	engine, st, rpc := newTestEngine(t)
	seedBlocks(rpc, 10)
	items := []types.PeerConsensusItem{
		roundItem(0, 10, 2), roundItem(1, 10, 2), roundItem(2, 10, 2), roundItem(3, 10, 2),
	}
	require.NoError(t, engine.Apply(context.Background(), items))

	rc, err := st.ReadRoundConsensus(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(10), rc.BlockHeight)
	require.Equal(t, types.FeeRate(2), rc.FeeRate)
}

func TestEngineApplyPanicsOnZeroRoundProposals(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	require.Panics(t, func() { engine.Apply(context.Background(), nil) })
}

func TestEngineApplyIgnoresSignatureForUnknownTxid(t *testing.T) {
	engine, _, rpc := newTestEngine(t)
	seedBlocks(rpc, 5)
	items := []types.PeerConsensusItem{
		roundItem(0, 5, 1), roundItem(1, 5, 1), roundItem(2, 5, 1),
		{Peer: 3, Item: types.ConsensusItem{PegOutSignature: &types.PegOutSignatureItem{}}},
	}
	require.NoError(t, engine.Apply(context.Background(), items))
}

func TestEngineApplyAdvancesFollowerAcrossEpochs(t *testing.T) {
	engine, st, rpc := newTestEngine(t)
	seedBlocks(rpc, 20)

	first := []types.PeerConsensusItem{
		roundItem(0, 10, 2), roundItem(1, 10, 2), roundItem(2, 10, 2), roundItem(3, 10, 2),
	}
	require.NoError(t, engine.Apply(context.Background(), first))
	known, err := st.HasBlockAtHeight(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, known)
	known, err = st.HasBlockAtHeight(context.Background(), 15)
	require.NoError(t, err)
	require.False(t, known)

	second := []types.PeerConsensusItem{
		roundItem(0, 15, 2), roundItem(1, 15, 2), roundItem(2, 15, 2), roundItem(3, 15, 2),
	}
	require.NoError(t, engine.Apply(context.Background(), second))
	known, err = st.HasBlockAtHeight(context.Background(), 15)
	require.NoError(t, err)
	require.True(t, known)
}
