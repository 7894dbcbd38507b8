package pegout

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/store"
	"github.com/jkitman/minimint/internal/types"
)

func testFederation(t *testing.T, n int) (*descriptor.Descriptor, map[descriptor.PeerID]*btcec.PrivateKey) {
	t.Helper()
	secrets := make(map[descriptor.PeerID]*btcec.PrivateKey, n)
	pubs := make(map[descriptor.PeerID]*btcec.PublicKey, n)
	for i := 0; i < n; i++ {
		sk, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		secrets[descriptor.PeerID(i)] = sk
		pubs[descriptor.PeerID(i)] = sk.PubKey()
	}
	fed, err := descriptor.New(pubs)
	require.NoError(t, err)
	return fed, secrets
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedUTXO(t *testing.T, st *store.Store, amount uint64) types.SpendableUTXO {
	t.Helper()
	var tweak descriptor.Tweak
	tweak[0] = 0x01
	var txid [32]byte
	txid[0] = 0x02
	utxo := types.SpendableUTXO{
		OutPoint:   types.OutPoint{Index: 0},
		Tweak:      tweak,
		AmountSats: amount,
	}
	copy(utxo.OutPoint.Txid[:], txid[:])
	require.NoError(t, st.WriteSpendableUTXO(context.Background(), utxo))
	return utxo
}

func destScript(t *testing.T) []byte {
	t.Helper()
	_, pub := btcec.PrivKeyFromBytes([]byte{
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
		17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32,
	})
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(pub.SerializeCompressed()[:20]).
		Script()
	require.NoError(t, err)
	return script
}

func TestValidateOutputRejectsWrongNetwork(t *testing.T) {
	st := openTestStore(t)
	fed, secrets := testFederation(t, 4)
	p := NewPipeline(st, fed, &chaincfg.MainNetParams, 0, secrets[0], 500)

	pegOut := &types.PegOut{
		AmountSats:        10_000,
		DestinationScript: destScript(t),
		DestinationNet:    "testnet",
		Fees:              types.PegOutFees{FeeRate: 10},
	}
	consensus := &types.RoundConsensus{FeeRate: 5}

	_, err := p.ValidateOutput(context.Background(), pegOut, consensus)
	require.ErrorIs(t, err, ErrWrongNetwork)
}

func TestValidateOutputRejectsLowFeeRate(t *testing.T) {
	st := openTestStore(t)
	fed, secrets := testFederation(t, 4)
	p := NewPipeline(st, fed, &chaincfg.MainNetParams, 0, secrets[0], 500)

	pegOut := &types.PegOut{
		AmountSats:        10_000,
		DestinationScript: destScript(t),
		DestinationNet:    "mainnet",
		Fees:              types.PegOutFees{FeeRate: 1},
	}
	consensus := &types.RoundConsensus{FeeRate: 5}

	_, err := p.ValidateOutput(context.Background(), pegOut, consensus)
	require.ErrorIs(t, err, ErrPegOutFeeRate)
}

func TestValidateOutputRejectsInsufficientFunds(t *testing.T) {
	st := openTestStore(t)
	fed, secrets := testFederation(t, 4)
	p := NewPipeline(st, fed, &chaincfg.MainNetParams, 0, secrets[0], 500)

	pegOut := &types.PegOut{
		AmountSats:        10_000,
		DestinationScript: destScript(t),
		DestinationNet:    "mainnet",
		Fees:              types.PegOutFees{FeeRate: 10},
	}
	consensus := &types.RoundConsensus{FeeRate: 5}

	_, err := p.ValidateOutput(context.Background(), pegOut, consensus)
	require.ErrorIs(t, err, ErrNotEnoughSpendableUTXO)
}

func TestApplyOutputQueuesUnsignedTransaction(t *testing.T) {
	st := openTestStore(t)
	fed, secrets := testFederation(t, 4)
	seedUTXO(t, st, 1_000_000)
	p := NewPipeline(st, fed, &chaincfg.MainNetParams, 0, secrets[0], 500)

	pegOut := &types.PegOut{
		AmountSats:        10_000,
		DestinationScript: destScript(t),
		DestinationNet:    "mainnet",
		Fees:              types.PegOutFees{FeeRate: 10},
	}
	consensus := &types.RoundConsensus{FeeRate: 5}
	outPoint := types.OutPoint{Index: 7}

	amount, err := p.ApplyOutput(context.Background(), pegOut, outPoint, consensus)
	require.NoError(t, err)
	require.Equal(t, pegOut.AmountSats+pegOut.Fees.AmountSats+500, amount.AmountSats)

	txid, err := st.ReadOutputTxid(context.Background(), outPoint)
	require.NoError(t, err)
	require.NotNil(t, txid)

	ut, err := st.ReadUnsignedTransaction(context.Background(), *txid)
	require.NoError(t, err)
	require.Len(t, ut.Signatures, 1)
	require.Equal(t, descriptor.PeerID(0), ut.Signatures[0].Peer)

	// Spent input must no longer be spendable.
	utxos, err := st.ListSpendableUTXOs(context.Background())
	require.NoError(t, err)
	require.Len(t, utxos, 0)
}

func TestPegOutFeesDoesNotMutateState(t *testing.T) {
	st := openTestStore(t)
	fed, secrets := testFederation(t, 4)
	seedUTXO(t, st, 1_000_000)
	p := NewPipeline(st, fed, &chaincfg.MainNetParams, 0, secrets[0], 500)

	consensus := &types.RoundConsensus{FeeRate: 5}
	fees, ok, err := p.PegOutFees(context.Background(), destScript(t), 10_000, consensus)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.FeeRate(5), fees.FeeRate)

	utxos, err := st.ListSpendableUTXOs(context.Background())
	require.NoError(t, err)
	require.Len(t, utxos, 1)
}
