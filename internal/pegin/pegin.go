// Package pegin implements the peg-in validator of spec §4.E: verifying
// that a caller-supplied Bitcoin transaction with an SPV proof pays into
// a tweaked federation script, and crediting it to exactly one claimant.
package pegin

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/logging"
	"github.com/jkitman/minimint/internal/store"
	"github.com/jkitman/minimint/internal/types"
)

// Validator checks peg-in claims against the federation descriptor and
// the chain follower's known-block set.
type Validator struct {
	store           *store.Store
	fed             *descriptor.Descriptor
	pegInAbsFeeSats uint64
}

// NewValidator builds a Validator charging pegInAbsFeeSats as the
// configured absolute peg-in fee (spec §6 Configuration.fee_consensus).
func NewValidator(st *store.Store, fed *descriptor.Descriptor, pegInAbsFeeSats uint64) *Validator {
	return &Validator{store: st, fed: fed, pegInAbsFeeSats: pegInAbsFeeSats}
}

// claimTweak derives the 32-byte tweak a claim public key instantiates
// the descriptor under. The source format HMACs the claim key's raw
// compressed serialization directly as the tweak message; this module
// fixes every Tweak at 32 bytes (spec GLOSSARY), so the compressed key
// is hashed down first. Signers and verifiers agree as long as both
// sides derive the tweak this same way, which is all §3 invariant 4
// requires.
func claimTweak(claimKey []byte) descriptor.Tweak {
	return descriptor.Tweak(sha256.Sum256(claimKey))
}

// Validate implements spec §4.E's validate steps 1-5, populating
// proof.OutpointIx and returning the InputMeta the outer framework
// credits once Apply is also called.
func (v *Validator) Validate(ctx context.Context, proof *types.PegInProof) (*types.InputMeta, error) {
	committedRoot, known, err := v.store.BlockMerkleRoot(ctx, proof.Proof.BlockHash)
	if err != nil {
		return nil, fmt.Errorf("pegin: check known block: %w", err)
	}
	if !known {
		return nil, ErrUnknownPegInProofBlock
	}

	txid := proof.BitcoinTx.TxHash()
	if !verifyMerkleProof(txid, proof.Proof, committedRoot) {
		return nil, ErrPegInProofError
	}

	claimKeyBytes := proof.ClaimKey.SerializeCompressed()
	tweak := claimTweak(claimKeyBytes)
	tweaked, err := v.fed.Tweak(tweak)
	if err != nil {
		return nil, fmt.Errorf("pegin: tweak descriptor: %w", err)
	}
	wantScript, err := tweaked.ScriptPubKey()
	if err != nil {
		return nil, fmt.Errorf("pegin: descriptor script pubkey: %w", err)
	}

	outIndex, amount, err := findPayingOutput(proof, wantScript)
	if err != nil {
		return nil, err
	}

	outpoint := types.OutPoint{Txid: txid, Index: outIndex}
	existing, err := v.store.ReadSpendableUTXO(ctx, outpoint)
	if err != nil {
		return nil, fmt.Errorf("pegin: check existing utxo: %w", err)
	}
	if existing != nil {
		return nil, ErrPegInAlreadyClaimed
	}

	proof.OutpointIx = outIndex
	return &types.InputMeta{
		AmountSats: amount,
		FeeSats:    v.pegInAbsFeeSats,
		OwnerKeys:  []*btcec.PublicKey{proof.ClaimKey},
	}, nil
}

// findPayingOutput scans the claimed transaction's outputs for the one
// paying wantScript. proof.Proof.TxIndex addresses the transaction's
// position in the block's merkle tree, not an output index, so the
// paying output is found independently (spec §4.E step 3).
func findPayingOutput(proof *types.PegInProof, wantScript []byte) (uint32, uint64, error) {
	var foundIndex uint32
	var foundAmount uint64
	count := 0
	for i, out := range proof.BitcoinTx.TxOut {
		if bytes.Equal(out.PkScript, wantScript) {
			foundIndex = uint32(i)
			foundAmount = uint64(out.Value)
			count++
		}
	}
	if count != 1 {
		return 0, 0, ErrNoMatchingOutput
	}
	return foundIndex, foundAmount, nil
}

// Apply credits the peg-in outpoint as a new SpendableUTXO (spec
// §4.E "Apply"). Callers must have just called Validate successfully;
// it populates proof.OutpointIx used here.
func (v *Validator) Apply(ctx context.Context, proof *types.PegInProof, amountSats uint64) error {
	tweak := claimTweak(proof.ClaimKey.SerializeCompressed())
	outpoint := types.OutPoint{Txid: proof.BitcoinTx.TxHash(), Index: proof.OutpointIx}
	utxo := types.SpendableUTXO{OutPoint: outpoint, Tweak: tweak, AmountSats: amountSats}
	if err := v.store.WriteSpendableUTXO(ctx, utxo); err != nil {
		if err == store.ErrAlreadyClaimed {
			return ErrPegInAlreadyClaimed
		}
		return fmt.Errorf("pegin: credit utxo %s: %w", outpoint, err)
	}
	logging.Printf("pegin.Apply: credited %s amount=%d", outpoint, amountSats)
	return nil
}
