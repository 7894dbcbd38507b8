// Package pegout implements the peg-out signing pipeline of spec §4.D:
// construction, local signing, per-epoch signature aggregation and
// verification, PSBT finalization, and the background broadcaster.
package pegout

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gofrs/uuid/v5"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/logging"
	"github.com/jkitman/minimint/internal/store"
	"github.com/jkitman/minimint/internal/types"
	"github.com/jkitman/minimint/internal/wallet"
)

// Pipeline owns everything needed to validate, build, locally sign, and
// later finalize a peg-out.
type Pipeline struct {
	store            *store.Store
	fed              *descriptor.Descriptor
	network          *chaincfg.Params
	ourPeer          descriptor.PeerID
	ourSecretKey     *btcec.PrivateKey
	pegOutAbsFeeSats uint64
}

// NewPipeline builds a Pipeline for the given federation, network, and
// this peer's identity/secret key.
func NewPipeline(st *store.Store, fed *descriptor.Descriptor, network *chaincfg.Params, ourPeer descriptor.PeerID, ourSecretKey *btcec.PrivateKey, pegOutAbsFeeSats uint64) *Pipeline {
	return &Pipeline{
		store:            st,
		fed:              fed,
		network:          network,
		ourPeer:          ourPeer,
		ourSecretKey:     ourSecretKey,
		pegOutAbsFeeSats: pegOutAbsFeeSats,
	}
}

// compatibleNetworks groups Testnet/Signet/Regtest as interchangeable
// peg-out destinations, matching historical P2PKH/P2SH address-prefix
// overlap across Bitcoin's test networks (spec §4.D). Both the
// PegOut.DestinationNet spelling ("testnet") and chaincfg.Params.Name's
// spelling for that same network ("testnet3") must be present, since
// checkNetwork compares destNet against the configured params' Name.
var compatibleNetworks = map[string]bool{"testnet": true, "testnet3": true, "signet": true, "regtest": true}

func (p *Pipeline) checkNetwork(destNet string) error {
	if destNet == p.network.Name {
		return nil
	}
	if compatibleNetworks[destNet] && compatibleNetworks[p.network.Name] {
		return nil
	}
	return ErrWrongNetwork
}

// buildCandidate runs coin selection against the current consensus,
// shared by ValidateOutput and ApplyOutput.
func (p *Pipeline) buildCandidate(ctx context.Context, pegOut *types.PegOut, consensus *types.RoundConsensus) (*types.UnsignedTransaction, bool, error) {
	utxos, err := p.store.ListSpendableUTXOs(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("pegout: list utxos: %w", err)
	}
	return wallet.CreateTx(p.fed, pegOut.AmountSats, pegOut.DestinationScript, utxos, consensus.FeeRate, consensus.RandomnessBeacon)
}

// ValidateOutput implements spec §4.D's validate checks.
func (p *Pipeline) ValidateOutput(ctx context.Context, pegOut *types.PegOut, consensus *types.RoundConsensus) (*types.TransactionItemAmount, error) {
	if err := p.checkNetwork(pegOut.DestinationNet); err != nil {
		return nil, err
	}
	if pegOut.Fees.FeeRate < consensus.FeeRate {
		return nil, ErrPegOutFeeRate
	}
	_, ok, err := p.buildCandidate(ctx, pegOut, consensus)
	if err != nil {
		return nil, fmt.Errorf("pegout: build candidate: %w", err)
	}
	if !ok {
		return nil, ErrNotEnoughSpendableUTXO
	}
	return &types.TransactionItemAmount{
		AmountSats: pegOut.AmountSats + pegOut.Fees.AmountSats + p.pegOutAbsFeeSats,
		FeeSats:    p.pegOutAbsFeeSats,
	}, nil
}

// PegOutFees is the read-only RPC endpoint estimating what a peg-out to
// destinationScript/amountSats would cost at the current round
// consensus, without mutating any state (SPEC_FULL.md supplemented
// feature, grounded in original_source's peg_out_fees).
func (p *Pipeline) PegOutFees(ctx context.Context, destinationScript []byte, amountSats uint64, consensus *types.RoundConsensus) (*types.PegOutFees, bool, error) {
	utxos, err := p.store.ListSpendableUTXOs(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("pegout: list utxos: %w", err)
	}
	var zeroTweak descriptor.Tweak
	tx, ok, err := wallet.CreateTx(p.fed, amountSats, destinationScript, utxos, consensus.FeeRate, zeroTweak)
	if err != nil {
		return nil, false, fmt.Errorf("pegout: estimate fees: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	feeSats := uint64(consensus.FeeRate) * uint64((tx.TotalWeight+3)/4)
	return &types.PegOutFees{FeeRate: consensus.FeeRate, AmountSats: feeSats}, true, nil
}

// ApplyOutput implements spec §4.D's apply steps: build, locally sign,
// extract our contribution, reserve the spent UTXOs, and queue the
// UnsignedTransaction for signature aggregation.
func (p *Pipeline) ApplyOutput(ctx context.Context, pegOut *types.PegOut, outPoint types.OutPoint, consensus *types.RoundConsensus) (*types.TransactionItemAmount, error) {
	amount, err := p.ValidateOutput(ctx, pegOut, consensus)
	if err != nil {
		return nil, err
	}

	tx, ok, err := p.buildCandidate(ctx, pegOut, consensus)
	if err != nil {
		return nil, fmt.Errorf("pegout: build candidate: %w", err)
	}
	if !ok {
		return nil, ErrNotEnoughSpendableUTXO
	}

	if err := wallet.SignPSBT(tx.PSBT, p.ourSecretKey); err != nil {
		return nil, fmt.Errorf("pegout: sign psbt: %w", err)
	}

	txid := tx.PSBT.UnsignedTx.TxHash()
	ourItem, err := extractOurSignatures(tx.PSBT, txid)
	if err != nil {
		return nil, fmt.Errorf("pegout: extract our signatures: %w", err)
	}
	tx.Signatures = []types.PeerSignature{{Peer: p.ourPeer, Item: *ourItem}}

	for _, in := range tx.PSBT.UnsignedTx.TxIn {
		op := types.OutPoint{Txid: in.PreviousOutPoint.Hash, Index: in.PreviousOutPoint.Index}
		if err := p.store.DeleteSpendableUTXO(ctx, op); err != nil {
			return nil, fmt.Errorf("pegout: reserve input %s: %w", op, err)
		}
	}

	if err := p.store.WriteUnsignedTransaction(ctx, txid, tx); err != nil {
		return nil, fmt.Errorf("pegout: write unsigned transaction: %w", err)
	}
	if err := p.store.WriteOutputTxid(ctx, outPoint, txid); err != nil {
		return nil, fmt.Errorf("pegout: write output status: %w", err)
	}
	if err := p.store.WritePendingSignatureItem(ctx, txid, *ourItem); err != nil {
		return nil, fmt.Errorf("pegout: write pending signature item: %w", err)
	}

	requestId := uuid.Must(uuid.NewV4())
	logging.Printf("pegout.ApplyOutput: request=%s queued txid=%s change=%d inputs=%d", requestId, txid, tx.ChangeSats, len(tx.PSBT.UnsignedTx.TxIn))
	return amount, nil
}

// extractOurSignatures pulls the single PartialSig SignPSBT attached to
// each input, in PSBT input order, stripping the trailing SIGHASH_ALL
// byte (spec §9, "sighash drop byte").
func extractOurSignatures(packet *psbt.Packet, txid chainhash.Hash) (*types.PegOutSignatureItem, error) {
	sigs := make([][]byte, len(packet.Inputs))
	for i, in := range packet.Inputs {
		if len(in.PartialSigs) != 1 {
			return nil, fmt.Errorf("pegout: input %d has %d partial sigs, want 1", i, len(in.PartialSigs))
		}
		raw := in.PartialSigs[0].Signature
		if len(raw) == 0 {
			return nil, fmt.Errorf("pegout: input %d has empty signature", i)
		}
		sigs[i] = append([]byte(nil), raw[:len(raw)-1]...)
	}
	return &types.PegOutSignatureItem{Txid: txid, Signatures: sigs}, nil
}
