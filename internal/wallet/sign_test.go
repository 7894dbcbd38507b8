package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/require"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/types"
)

func TestSignPSBTProducesVerifiableSignature(t *testing.T) {
	fed, sks := testDescriptor(t, 4)

	var userTweak, changeTweak descriptor.Tweak
	userTweak[1] = 0x42
	changeTweak[2] = 0x99

	td, err := fed.Tweak(userTweak)
	require.NoError(t, err)
	destScript, err := td.ScriptPubKey()
	require.NoError(t, err)

	utxo := utxoAt(t, fed, userTweak, 1_000_000, 0)

	built, ok, err := CreateTx(fed, 300_000, destScript, []types.SpendableUTXO{utxo}, 3, changeTweak)
	require.NoError(t, err)
	require.True(t, ok)

	err = SignPSBT(built.PSBT, sks[0])
	require.NoError(t, err)

	in := built.PSBT.Inputs[0]
	require.Len(t, in.PartialSigs, 1)

	tweakedPub, err := descriptor.TweakPublicKey(sks[0].PubKey(), userTweak)
	require.NoError(t, err)
	require.Equal(t, tweakedPub.SerializeCompressed(), in.PartialSigs[0].PubKey)

	hash, err := SighashForInput(built.PSBT, 0)
	require.NoError(t, err)

	sigDER := in.PartialSigs[0].Signature[:len(in.PartialSigs[0].Signature)-1] // strip sighash byte
	sig, err := ecdsa.ParseDERSignature(sigDER)
	require.NoError(t, err)
	require.True(t, sig.Verify(hash, tweakedPub))
}
