package pegin

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/store"
	"github.com/jkitman/minimint/internal/types"
)

func testFederation(t *testing.T, n int) *descriptor.Descriptor {
	t.Helper()
	keys := make(map[descriptor.PeerID]*btcec.PublicKey, n)
	for i := 0; i < n; i++ {
		sk, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		keys[descriptor.PeerID(i)] = sk.PubKey()
	}
	fed, err := descriptor.New(keys)
	require.NoError(t, err)
	return fed
}

// buildClaimProof returns a claim proof together with the block hash
// and the merkle root that block's header actually commits to. Tests
// must record (blockHash, committedRoot) in the store via
// st.WriteBlockHash the same way the chain follower would, rather than
// trusting whatever root a caller-supplied proof carries.
func buildClaimProof(t *testing.T, fed *descriptor.Descriptor, claimKey *btcec.PublicKey, amount int64) (proof *types.PegInProof, blockHash, committedRoot chainhash.Hash) {
	t.Helper()
	tweak := claimTweak(claimKey.SerializeCompressed())
	tweaked, err := fed.Tweak(tweak)
	require.NoError(t, err)
	script, err := tweaked.ScriptPubKey()
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x00}))
	tx.AddTxOut(wire.NewTxOut(amount, script))
	txid := tx.TxHash()

	// Single-leaf merkle tree: root equals the (duplicated) txid hash.
	committedRoot = chainhash.DoubleHashH(append(append([]byte{}, txid[:]...), txid[:]...))
	blockHash = chainhash.HashH([]byte("block"))

	proof = &types.PegInProof{
		BitcoinTx: tx,
		Proof: types.SPVProof{
			BlockHash:      blockHash,
			MerkleBranch:   []chainhash.Hash{txid},
			BranchSideMask: 0,
			TxIndex:        0,
		},
		ClaimKey: claimKey,
	}
	return proof, blockHash, committedRoot
}

func TestValidateAndApplyHappyPath(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fed := testFederation(t, 4)
	claimSk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	proof, blockHash, committedRoot := buildClaimProof(t, fed, claimSk.PubKey(), 1_000_000)

	require.NoError(t, st.WriteBlockHash(context.Background(), 100, blockHash, committedRoot))

	v := NewValidator(st, fed, 500)
	meta, err := v.Validate(context.Background(), proof)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), meta.AmountSats)
	require.Equal(t, uint64(500), meta.FeeSats)

	require.NoError(t, v.Apply(context.Background(), proof, meta.AmountSats))

	utxo, err := st.ReadSpendableUTXO(context.Background(), types.OutPoint{Txid: proof.BitcoinTx.TxHash(), Index: proof.OutpointIx})
	require.NoError(t, err)
	require.NotNil(t, utxo)
	require.Equal(t, uint64(1_000_000), utxo.AmountSats)

	// Re-validating the same proof must fail as already claimed.
	_, err = v.Validate(context.Background(), proof)
	require.ErrorIs(t, err, ErrPegInAlreadyClaimed)
}

func TestValidateRejectsUnknownBlock(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fed := testFederation(t, 4)
	claimSk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	proof, _, _ := buildClaimProof(t, fed, claimSk.PubKey(), 1_000_000)

	v := NewValidator(st, fed, 0)
	_, err = v.Validate(context.Background(), proof)
	require.ErrorIs(t, err, ErrUnknownPegInProofBlock)
}

func TestValidateRejectsForgedRootUnderKnownBlockHash(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fed := testFederation(t, 4)
	claimSk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	proof, blockHash, _ := buildClaimProof(t, fed, claimSk.PubKey(), 1_000_000)

	// The block hash is accepted as canonical, but its header committed
	// to a different root than the one this self-consistent proof folds
	// to: the branch must be checked against the block's own committed
	// root, not anything the proof supplies.
	var unrelatedRoot chainhash.Hash
	unrelatedRoot[0] = 0xEE
	require.NoError(t, st.WriteBlockHash(context.Background(), 100, blockHash, unrelatedRoot))

	v := NewValidator(st, fed, 500)
	_, err = v.Validate(context.Background(), proof)
	require.ErrorIs(t, err, ErrPegInProofError)
}
