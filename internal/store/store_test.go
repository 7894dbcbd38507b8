package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/types"
)

func emptyPacket(t *testing.T) *psbt.Packet {
	t.Helper()
	packet, err := psbt.NewFromUnsignedTx(wire.NewMsgTx(2))
	require.NoError(t, err)
	return packet
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSpendableUTXORoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	op := types.OutPoint{Index: 1}
	op.Txid[0] = 0x42
	utxo := types.SpendableUTXO{OutPoint: op, Tweak: descriptor.Tweak{0x09}, AmountSats: 50_000}

	require.NoError(t, st.WriteSpendableUTXO(ctx, utxo))

	got, err := st.ReadSpendableUTXO(ctx, op)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, utxo, *got)

	list, err := st.ListSpendableUTXOs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, st.DeleteSpendableUTXO(ctx, op))
	got, err = st.ReadSpendableUTXO(ctx, op)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestWriteSpendableUTXORejectsDuplicateOutpoint(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	op := types.OutPoint{Index: 0}
	op.Txid[0] = 0x07
	utxo := types.SpendableUTXO{OutPoint: op, Tweak: descriptor.Tweak{0x01}, AmountSats: 1_000}

	require.NoError(t, st.WriteSpendableUTXO(ctx, utxo))
	err := st.WriteSpendableUTXO(ctx, utxo)
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestRoundConsensusReadNilBeforeFirstWrite(t *testing.T) {
	st := openTestStore(t)
	rc, err := st.ReadRoundConsensus(context.Background())
	require.NoError(t, err)
	require.Nil(t, rc)
}

func TestRoundConsensusWriteOverwritesSingleRow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first := &types.RoundConsensus{BlockHeight: 10, FeeRate: 2, RandomnessBeacon: [32]byte{0x01}}
	require.NoError(t, st.WriteRoundConsensus(ctx, first))

	second := &types.RoundConsensus{BlockHeight: 20, FeeRate: 5, RandomnessBeacon: [32]byte{0x02}}
	require.NoError(t, st.WriteRoundConsensus(ctx, second))

	got, err := st.ReadRoundConsensus(ctx)
	require.NoError(t, err)
	require.Equal(t, *second, *got)
}

func TestBlockHashRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var hash chainhash.Hash
	hash[0] = 0xAB
	var root chainhash.Hash
	root[0] = 0xCD
	require.NoError(t, st.WriteBlockHash(ctx, 100, hash, root))

	known, err := st.HasBlockHash(ctx, hash)
	require.NoError(t, err)
	require.True(t, known)

	known, err = st.HasBlockAtHeight(ctx, 100)
	require.NoError(t, err)
	require.True(t, known)

	known, err = st.HasBlockAtHeight(ctx, 101)
	require.NoError(t, err)
	require.False(t, known)

	gotRoot, ok, err := st.BlockMerkleRoot(ctx, hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, root, gotRoot)

	_, ok, err = st.BlockMerkleRoot(ctx, chainhash.Hash{0xFF})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOutputTxidRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	out := types.OutPoint{Index: 3}
	out.Txid[0] = 0x11

	got, err := st.ReadOutputTxid(ctx, out)
	require.NoError(t, err)
	require.Nil(t, got)

	var txid chainhash.Hash
	txid[0] = 0x22
	require.NoError(t, st.WriteOutputTxid(ctx, out, txid))

	got, err = st.ReadOutputTxid(ctx, out)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, txid, *got)
}

func TestPendingSignatureItemLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var txid chainhash.Hash
	txid[0] = 0x33
	item := types.PegOutSignatureItem{Txid: txid, Signatures: [][]byte{{0x01, 0x02}}}

	require.NoError(t, st.WritePendingSignatureItem(ctx, txid, item))

	list, err := st.ListPendingSignatureItems(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, item.Txid, list[0].Txid)

	require.NoError(t, st.DeletePendingSignatureItem(ctx, txid))
	list, err = st.ListPendingSignatureItems(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestAuditBalanceNetsUTXOsAgainstOutstandingChange(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	op := types.OutPoint{Index: 0}
	op.Txid[0] = 0x55
	require.NoError(t, st.WriteSpendableUTXO(ctx, types.SpendableUTXO{OutPoint: op, AmountSats: 100_000}))

	var txid chainhash.Hash
	txid[0] = 0x66
	require.NoError(t, st.WriteUnsignedTransaction(ctx, txid, &types.UnsignedTransaction{PSBT: emptyPacket(t), ChangeSats: 30_000}))

	total, err := st.AuditBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(70_000), total)
}
