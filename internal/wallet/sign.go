package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/pwire"
)

// psbtPrevOutFetcher answers txscript's PrevOutputFetcher interface
// from the WitnessUtxo values already stashed on the packet.
type psbtPrevOutFetcher struct{ packet *psbt.Packet }

func (f psbtPrevOutFetcher) FetchPrevOutput(op wire.OutPoint) *wire.TxOut {
	for i, in := range f.packet.UnsignedTx.TxIn {
		if in.PreviousOutPoint == op {
			return f.packet.Inputs[i].WitnessUtxo
		}
	}
	return nil
}

// SignPSBT inserts our own ECDSA signature into every input of packet,
// deriving each input's signing key from sk tweaked by that input's
// proprietary tweak (spec §4.A sign_psbt). The signature is keyed in
// PartialSigs by the tweaked compressed public key, as BIP174 expects.
func SignPSBT(packet *psbt.Packet, sk *btcec.PrivateKey) error {
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, psbtPrevOutFetcher{packet})

	for i := range packet.Inputs {
		in := &packet.Inputs[i]
		tw, ok := pwire.InputTweak(in)
		if !ok {
			return fmt.Errorf("wallet: input %d missing tweak", i)
		}
		if in.WitnessUtxo == nil || len(in.WitnessScript) == 0 {
			return fmt.Errorf("wallet: input %d missing witness data", i)
		}

		tweakedSk, err := descriptor.TweakPrivateKey(sk, tw)
		if err != nil {
			return fmt.Errorf("wallet: tweak signing key for input %d: %w", i, err)
		}

		hash, err := txscript.CalcWitnessSigHash(in.WitnessScript, sigHashes, txscript.SigHashAll, packet.UnsignedTx, i, in.WitnessUtxo.Value)
		if err != nil {
			return fmt.Errorf("wallet: sighash input %d: %w", i, err)
		}

		sig := ecdsa.Sign(tweakedSk, hash)
		sigBytes := append(sig.Serialize(), byte(txscript.SigHashAll))

		in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
			PubKey:    tweakedSk.PubKey().SerializeCompressed(),
			Signature: sigBytes,
		})
	}
	return nil
}

// SighashForInput recomputes the SegWit v0 sighash for a given input,
// used by signature verification in internal/pegout without needing a
// full SignPSBT pass.
func SighashForInput(packet *psbt.Packet, index int) ([]byte, error) {
	in := &packet.Inputs[index]
	if in.WitnessUtxo == nil || len(in.WitnessScript) == 0 {
		return nil, fmt.Errorf("wallet: input %d missing witness data", index)
	}
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, psbtPrevOutFetcher{packet})
	return txscript.CalcWitnessSigHash(in.WitnessScript, sigHashes, txscript.SigHashAll, packet.UnsignedTx, index, in.WitnessUtxo.Value)
}
