package pegout

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/logging"
	"github.com/jkitman/minimint/internal/pwire"
	"github.com/jkitman/minimint/internal/types"
	"github.com/jkitman/minimint/internal/wallet"
)

// FinalizePending visits every queued UnsignedTransaction whose
// signatures are non-empty, verifies each peer's contribution, and
// finalizes those that have collected threshold-many valid signers
// (spec §4.D "Signature aggregation"). It returns every peer in
// consensusPeers that failed to produce a fully valid contribution for
// at least one visited transaction, for the caller to report upward as
// misbehaving.
func (p *Pipeline) FinalizePending(ctx context.Context, consensusPeers []descriptor.PeerID) ([]descriptor.PeerID, error) {
	pending, err := p.store.ListUnsignedTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("pegout: list unsigned transactions: %w", err)
	}

	failed := make(map[descriptor.PeerID]bool)
	for txid, ut := range pending {
		if len(ut.Signatures) == 0 {
			continue
		}
		signers, err := p.verifySignatures(ut)
		if err != nil {
			return nil, err
		}
		signerSet := make(map[descriptor.PeerID]bool, len(signers))
		for _, peer := range signers {
			signerSet[peer] = true
		}
		for _, peer := range consensusPeers {
			if !signerSet[peer] {
				failed[peer] = true
			}
		}

		if len(signers) < p.fed.Threshold() {
			continue
		}
		if err := p.finalize(ctx, txid, ut, signers); err != nil {
			logging.Warnf("pegout.FinalizePending: finalize %s: %v", txid, err)
			continue
		}
	}

	drop := make([]descriptor.PeerID, 0, len(failed))
	for peer := range failed {
		drop = append(drop, peer)
	}
	return drop, nil
}

// lastValidSubmission keeps only the last (peer, item) pair per peer, in
// delivery order, per spec §9 ("only the last valid submission counts").
func lastValidSubmission(sigs []types.PeerSignature) []types.PeerSignature {
	index := make(map[descriptor.PeerID]int, len(sigs))
	for i, s := range sigs {
		index[s.Peer] = i
	}
	out := make([]types.PeerSignature, 0, len(index))
	for i, s := range sigs {
		if index[s.Peer] == i {
			out = append(out, s)
		}
	}
	return out
}

// verifySignatures checks each peer's full-input signature set against
// the PSBT's per-input tweaked pubkeys, rejecting (with a warning, not
// an abort) any peer whose contribution fails for any input. It returns
// the peers whose signature validated for every input.
func (p *Pipeline) verifySignatures(ut *types.UnsignedTransaction) ([]descriptor.PeerID, error) {
	inputCount := len(ut.PSBT.Inputs)
	var signers []descriptor.PeerID

	for _, ps := range lastValidSubmission(ut.Signatures) {
		if len(ps.Item.Signatures) != inputCount {
			logging.Warnf("pegout.verifySignatures: peer %d submitted %d signatures, want %d", ps.Peer, len(ps.Item.Signatures), inputCount)
			continue
		}
		if p.verifyPeerAcrossInputs(ps.Peer, ut, ps.Item.Signatures) {
			signers = append(signers, ps.Peer)
		}
	}
	return signers, nil
}

func (p *Pipeline) verifyPeerAcrossInputs(peer descriptor.PeerID, ut *types.UnsignedTransaction, sigs [][]byte) bool {
	for i := range ut.PSBT.Inputs {
		in := &ut.PSBT.Inputs[i]
		tweak, ok := pwire.InputTweak(in)
		if !ok {
			logging.Warnf("pegout.verifyPeerAcrossInputs: input %d missing tweak", i)
			return false
		}
		tweakedPub, err := descriptor.TweakPublicKey(p.fed.PublicKey(peer), tweak)
		if err != nil {
			logging.Warnf("pegout.verifyPeerAcrossInputs: peer %d input %d tweak pubkey: %v", peer, i, err)
			return false
		}
		hash, err := wallet.SighashForInput(ut.PSBT, i)
		if err != nil {
			logging.Warnf("pegout.verifyPeerAcrossInputs: peer %d input %d sighash: %v", peer, i, err)
			return false
		}
		sig, err := ecdsa.ParseDERSignature(sigs[i])
		if err != nil {
			logging.Warnf("pegout.verifyPeerAcrossInputs: peer %d input %d parse signature: %v", peer, i, err)
			return false
		}
		if !sig.Verify(hash, tweakedPub) {
			logging.Warnf("pegout.verifyPeerAcrossInputs: peer %d input %d signature does not verify", peer, i)
			return false
		}
	}
	return true
}

// finalize builds the final witness for every input from threshold-many
// of signers' signatures, writes the resulting PendingTransaction, and
// retires the UnsignedTransaction and its pending-signature record.
func (p *Pipeline) finalize(ctx context.Context, txid chainhash.Hash, ut *types.UnsignedTransaction, signers []descriptor.PeerID) error {
	changeTweak, changeErr := p.findChangeTweak(ut.PSBT)
	if changeErr != nil {
		return changeErr
	}

	sigByPeer := make(map[descriptor.PeerID][][]byte, len(ut.Signatures))
	for _, ps := range lastValidSubmission(ut.Signatures) {
		sigByPeer[ps.Peer] = ps.Item.Signatures
	}

	finalTx := ut.PSBT.UnsignedTx.Copy()
	threshold := p.fed.Threshold()

	for i := range ut.PSBT.Inputs {
		in := &ut.PSBT.Inputs[i]
		tweak, ok := pwire.InputTweak(in)
		if !ok {
			return fmt.Errorf("%w: input %d missing tweak", ErrFinalizingPSBT, i)
		}
		tweaked, err := p.fed.Tweak(tweak)
		if err != nil {
			return fmt.Errorf("%w: input %d tweak descriptor: %v", ErrFinalizingPSBT, i, err)
		}
		witnessScript, err := tweaked.WitnessScript()
		if err != nil {
			return fmt.Errorf("%w: input %d witness script: %v", ErrFinalizingPSBT, i, err)
		}
		sortedPKs := tweaked.SortedPublicKeys()

		sigByPubkey := make(map[string][]byte, len(signers))
		for _, peer := range signers {
			sig := sigByPeer[peer][i]
			pk := hex.EncodeToString(tweaked.PublicKey(peer).SerializeCompressed())
			sigByPubkey[pk] = append(append([]byte(nil), sig...), byte(txscript.SigHashAll))
		}

		witness := wire.TxWitness{nil}
		count := 0
		for _, pk := range sortedPKs {
			sig, ok := sigByPubkey[hex.EncodeToString(pk)]
			if !ok {
				continue
			}
			witness = append(witness, sig)
			count++
			if count == threshold {
				break
			}
		}
		if count < threshold {
			return fmt.Errorf("%w: input %d collected only %d of %d required signatures", ErrFinalizingPSBT, i, count, threshold)
		}
		witness = append(witness, witnessScript)
		finalTx.TxIn[i].Witness = witness
	}

	pending := &types.PendingTransaction{Tx: finalTx, ChangeTweak: changeTweak, ChangeSats: ut.ChangeSats}
	if err := p.store.WritePendingTransaction(ctx, txid, pending); err != nil {
		return fmt.Errorf("pegout: write pending transaction: %w", err)
	}
	if err := p.store.DeleteUnsignedTransaction(ctx, txid); err != nil {
		return fmt.Errorf("pegout: delete unsigned transaction: %w", err)
	}
	if err := p.store.DeletePendingSignatureItem(ctx, txid); err != nil {
		return fmt.Errorf("pegout: delete pending signature item: %w", err)
	}
	logging.Printf("pegout.finalize: finalized %s with %d signers", txid, len(signers))
	return nil
}

// findChangeTweak reads the 32-byte change tweak from the first PSBT
// output that carries a proprietary-tweak entry (spec §4.D step 3). If
// that first entry is the wrong length, or no output carries the entry
// at all, it surfaces MissingOrMalformedChangeTweak (spec §7) rather
// than silently moving on to a later output.
func (p *Pipeline) findChangeTweak(packet *psbt.Packet) (descriptor.Tweak, error) {
	for i := range packet.Outputs {
		if !pwire.HasOutputTweakKey(&packet.Outputs[i]) {
			continue
		}
		tw, err := pwire.RequireOutputTweak(&packet.Outputs[i])
		if err != nil {
			return descriptor.Tweak{}, fmt.Errorf("pegout: %w: %v", ErrMissingOrMalformedChangeTweak, err)
		}
		return tw, nil
	}
	return descriptor.Tweak{}, fmt.Errorf("pegout: %w: no output carries a change tweak", ErrMissingOrMalformedChangeTweak)
}
