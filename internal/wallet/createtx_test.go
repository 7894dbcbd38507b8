package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/pwire"
	"github.com/jkitman/minimint/internal/types"
)

func testDescriptor(t *testing.T, n int) (*descriptor.Descriptor, []*btcec.PrivateKey) {
	t.Helper()
	keys := make(map[descriptor.PeerID]*btcec.PublicKey, n)
	sks := make([]*btcec.PrivateKey, n)
	for i := 0; i < n; i++ {
		sk, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		sks[i] = sk
		keys[descriptor.PeerID(i)] = sk.PubKey()
	}
	d, err := descriptor.New(keys)
	require.NoError(t, err)
	return d, sks
}

func utxoAt(t *testing.T, fed *descriptor.Descriptor, tweak descriptor.Tweak, amount uint64, index uint32) types.SpendableUTXO {
	t.Helper()
	var txid [32]byte
	txid[0] = byte(index) + 1
	var h [32]byte
	copy(h[:], txid[:])
	out := types.OutPoint{Index: index}
	copy(out.Txid[:], h[:])
	return types.SpendableUTXO{OutPoint: out, Tweak: tweak, AmountSats: amount}
}

func TestCreateTxSelectsBothUTXOsAndPaysDestination(t *testing.T) {
	fed, _ := testDescriptor(t, 4)

	var userTweak, changeTweak descriptor.Tweak
	userTweak[0] = 0xAA
	for i := range changeTweak {
		changeTweak[i] = 0x01
	}

	utxos := []types.SpendableUTXO{
		utxoAt(t, fed, userTweak, 200_000, 0),
		utxoAt(t, fed, userTweak, 500_000, 1),
	}

	destDescriptor, err := fed.Tweak(userTweak)
	require.NoError(t, err)
	destScript, err := destDescriptor.ScriptPubKey()
	require.NoError(t, err)

	tx, ok, err := CreateTx(fed, 300_000, destScript, utxos, 2, changeTweak)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, tx.PSBT.UnsignedTx.TxIn, 2)
	require.Len(t, tx.PSBT.UnsignedTx.TxOut, 2)
	require.Equal(t, int64(300_000), tx.PSBT.UnsignedTx.TxOut[0].Value)

	wantChange := uint64(200_000+500_000) - 300_000 - feeForWeight(2, tx.TotalWeight)
	require.Equal(t, wantChange, tx.ChangeSats)
	require.Equal(t, int64(wantChange), tx.PSBT.UnsignedTx.TxOut[1].Value)

	changeTweakOut, ok := pwire.OutputTweak(&tx.PSBT.Outputs[1])
	require.True(t, ok)
	require.Equal(t, changeTweak, changeTweakOut)
}

func TestCreateTxInsufficientFunds(t *testing.T) {
	fed, _ := testDescriptor(t, 4)
	var tweak descriptor.Tweak
	utxos := []types.SpendableUTXO{utxoAt(t, fed, tweak, 1_000, 0)}

	destDescriptor, err := fed.Tweak(tweak)
	require.NoError(t, err)
	destScript, err := destDescriptor.ScriptPubKey()
	require.NoError(t, err)

	tx, ok, err := CreateTx(fed, 1_000_000, destScript, utxos, 2, tweak)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, tx)
}
