package descriptor

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// TweakedDescriptor is the descriptor instantiated with a specific
// 32-byte tweak: a concrete, spendable sorted-multisig witness script
// and its P2WSH script pubkey.
type TweakedDescriptor struct {
	base      *Descriptor
	tweak     Tweak
	pubKeys   map[PeerID]*btcec.PublicKey
	sortedPKs [][]byte
}

// Tweak returns the 32-byte tweak this instantiation was derived with.
func (t *TweakedDescriptor) Tweak() Tweak { return t.tweak }

// Threshold is the number of signatures required, inherited from the
// base descriptor.
func (t *TweakedDescriptor) Threshold() int { return t.base.threshold }

// PublicKey returns peer id's tweaked public key.
func (t *TweakedDescriptor) PublicKey(id PeerID) *btcec.PublicKey {
	return t.pubKeys[id]
}

// SortedPublicKeys returns the tweaked compressed pubkeys in the
// lexical order the witness script lists them, so a caller assembling a
// CHECKMULTISIG witness stack can place each signature next to its
// pubkey's position.
func (t *TweakedDescriptor) SortedPublicKeys() [][]byte {
	out := make([][]byte, len(t.sortedPKs))
	copy(out, t.sortedPKs)
	return out
}

// WitnessScript builds the sorted OP_CHECKMULTISIG redeem script:
// OP_<threshold> <pk1> .. <pkN> OP_<n> OP_CHECKMULTISIG, with the keys
// in ascending lexical order (BIP67 sortedmulti), so two independently
// built TweakedDescriptors for the same peer set and tweak always
// produce byte-identical output.
func (t *TweakedDescriptor) WitnessScript() ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(t.base.threshold))
	for _, pk := range t.sortedPKs {
		builder.AddData(pk)
	}
	builder.AddInt64(int64(len(t.sortedPKs)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// ScriptPubKey builds the SegWit v0 P2WSH output script paying to this
// descriptor instantiation's witness script.
func (t *TweakedDescriptor) ScriptPubKey() ([]byte, error) {
	witnessScript, err := t.WitnessScript()
	if err != nil {
		return nil, fmt.Errorf("descriptor: witness script: %w", err)
	}
	scriptHash := chainhash.HashB(witnessScript)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(scriptHash).
		Script()
}
