// Package wallet implements the stateless component of the wallet
// subsystem (spec §4.A): coin selection, PSBT construction, and local
// PSBT signing. Nothing here touches storage or the network; every
// function takes its inputs as arguments and returns a value.
package wallet

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/wire"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/logging"
	"github.com/jkitman/minimint/internal/pwire"
	"github.com/jkitman/minimint/internal/types"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// baseOverheadWeight accounts for the transaction version, the input
// and output count varints, and the lock time: all non-witness fields,
// so each contributes 4 weight units per byte (version 4B, lock time
// 4B, two single-byte varints assumed for the common small-tx case).
const baseOverheadWeight = int64((4 + 4 + 1 + 1) * 4)

func outputWeight(scriptLen int) int64 {
	size := 8 + wire.VarIntSerializeSize(uint64(scriptLen)) + scriptLen
	return int64(size) * 4
}

func feeForWeight(rate types.FeeRate, weight int64) uint64 {
	vbytes := (weight + 3) / 4
	return uint64(rate) * uint64(vbytes)
}

// CreateTx selects UTXOs and builds a PSBT paying amountSats to
// destinationScript, with change tweaked by changeTweak. It returns
// (nil, false, nil) when available UTXOs cannot cover the amount plus
// dust plus fees ("insufficient funds" in spec terms), never an error
// for that case — an error return means something else went wrong.
func CreateTx(
	fed *descriptor.Descriptor,
	amountSats uint64,
	destinationScript []byte,
	utxos []types.SpendableUTXO,
	feeRate types.FeeRate,
	changeTweak descriptor.Tweak,
) (*types.UnsignedTransaction, bool, error) {
	changeDescriptor, err := fed.Tweak(changeTweak)
	if err != nil {
		return nil, false, fmt.Errorf("wallet: tweak change descriptor: %w", err)
	}
	changeScript, err := changeDescriptor.ScriptPubKey()
	if err != nil {
		return nil, false, fmt.Errorf("wallet: change script pubkey: %w", err)
	}
	dust := dustValue(len(changeScript))

	sorted := make([]types.SpendableUTXO, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AmountSats < sorted[j].AmountSats })

	weight := baseOverheadWeight + outputWeight(len(destinationScript)) + outputWeight(len(changeScript))
	perInputWeight := fed.MaxSatisfactionWeight() + 160

	var selected []types.SpendableUTXO
	var selectedSats uint64
	var fees uint64

	for i := len(sorted) - 1; i >= 0; i-- {
		utxo := sorted[i]
		selected = append(selected, utxo)
		selectedSats += utxo.AmountSats
		weight += perInputWeight
		fees = feeForWeight(feeRate, weight)

		if selectedSats >= amountSats+dust+fees {
			changeSats := selectedSats - amountSats - fees
			tx, err := buildPSBT(fed, selected, destinationScript, amountSats, changeScript, changeTweak, changeSats)
			if err != nil {
				return nil, false, err
			}
			logging.Verbosef("wallet.CreateTx: selected=%d inputs change=%d fees=%d weight=%d", len(selected), changeSats, fees, weight)
			return &types.UnsignedTransaction{
				PSBT:        tx,
				ChangeSats:  changeSats,
				FeeRate:     feeRate,
				TotalWeight: weight,
			}, true, nil
		}
	}

	return nil, false, nil
}

func buildPSBT(
	fed *descriptor.Descriptor,
	selected []types.SpendableUTXO,
	destinationScript []byte,
	amountSats uint64,
	changeScript []byte,
	changeTweak descriptor.Tweak,
	changeSats uint64,
) (*psbt.Packet, error) {
	txIns := make([]*wire.TxIn, len(selected))
	for i, utxo := range selected {
		outpoint := wire.NewOutPoint(&utxo.OutPoint.Txid, utxo.OutPoint.Index)
		txIns[i] = wire.NewTxIn(outpoint, nil, nil)
		txIns[i].Sequence = wire.MaxTxInSequenceNum
	}
	txOuts := []*wire.TxOut{
		wire.NewTxOut(int64(amountSats), destinationScript),
		wire.NewTxOut(int64(changeSats), changeScript),
	}

	unsigned := wire.NewMsgTx(2)
	unsigned.TxIn = txIns
	unsigned.TxOut = txOuts
	unsigned.LockTime = 0

	packet, err := psbt.NewFromUnsignedTx(unsigned)
	if err != nil {
		return nil, fmt.Errorf("wallet: new psbt: %w", err)
	}

	for i, utxo := range selected {
		tweakedDescriptor, err := fed.Tweak(utxo.Tweak)
		if err != nil {
			return nil, fmt.Errorf("wallet: tweak input %d descriptor: %w", i, err)
		}
		witnessScript, err := tweakedDescriptor.WitnessScript()
		if err != nil {
			return nil, fmt.Errorf("wallet: input %d witness script: %w", i, err)
		}
		inputScript, err := tweakedDescriptor.ScriptPubKey()
		if err != nil {
			return nil, fmt.Errorf("wallet: input %d script pubkey: %w", i, err)
		}
		packet.Inputs[i].WitnessUtxo = wire.NewTxOut(int64(utxo.AmountSats), inputScript)
		packet.Inputs[i].WitnessScript = witnessScript
		pwire.SetInputTweak(&packet.Inputs[i], utxo.Tweak)
	}

	pwire.SetOutputTweak(&packet.Outputs[1], changeTweak)

	return packet, nil
}
