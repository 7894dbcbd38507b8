// Package types holds the shared value types of the wallet data model
// (spec §3) so that the pure wallet, the chain follower, the consensus
// engine, and the peg-in/peg-out pipelines can all agree on their shape
// without importing each other.
package types

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/jkitman/minimint/internal/descriptor"
)

// FeeRate is expressed in satoshis per virtual byte, the unit the
// Bitcoin RPC's fee estimator and this module's consensus both use.
type FeeRate uint64

// OutPoint identifies a Bitcoin transaction output.
type OutPoint struct {
	Txid  chainhash.Hash
	Index uint32
}

func (o OutPoint) String() string {
	return o.Txid.String() + ":" + itoa(o.Index)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// RoundConsensus is the single agreed-upon per-epoch value (spec §3).
type RoundConsensus struct {
	BlockHeight      uint32
	FeeRate          FeeRate
	RandomnessBeacon [32]byte
}

// SpendableUTXO is a UTXO the federation can spend from, keyed by its
// outpoint, along with the tweak that produced its script.
type SpendableUTXO struct {
	OutPoint   OutPoint
	Tweak      descriptor.Tweak
	AmountSats uint64
}

// PegOutSignatureItem carries one peer's ECDSA signatures for a peg-out
// transaction, one per PSBT input in PSBT input order, with the
// trailing SIGHASH_ALL byte already stripped (spec §9, "sighash drop
// byte").
type PegOutSignatureItem struct {
	Txid       chainhash.Hash
	Signatures [][]byte
}

// PeerSignature pairs a signature item with the peer that produced it,
// in BFT delivery order (spec §9, "peer-keyed signatures").
type PeerSignature struct {
	Peer descriptor.PeerID
	Item PegOutSignatureItem
}

// UnsignedTransaction is a peg-out PSBT accumulating peer signatures
// across epochs, keyed by its unsigned txid.
type UnsignedTransaction struct {
	PSBT        *psbt.Packet
	Signatures  []PeerSignature
	ChangeSats  uint64
	FeeRate     FeeRate
	TotalWeight int64
}

// PendingTransaction is a fully-signed, finalized peg-out awaiting
// broadcast and change recognition.
type PendingTransaction struct {
	Tx          *wire.MsgTx
	ChangeTweak descriptor.Tweak
	ChangeSats  uint64
}

// RoundConsensusItem is one peer's per-epoch proposal (spec §4.C).
// BlockHeight is deliberately u32 at this wire boundary even though the
// Bitcoin RPC reports height as u64 (spec §9 open question): the
// narrower type here is consensus-critical, the RPC side saturates.
type RoundConsensusItem struct {
	BlockHeight      uint32
	FeeRate          FeeRate
	RandomnessBeacon [32]byte
}

// ConsensusItem is the sum type BFT delivers: either a round proposal
// or a peg-out signature contribution, never both.
type ConsensusItem struct {
	Round           *RoundConsensusItem
	PegOutSignature *PegOutSignatureItem
}

// PeerConsensusItem pairs a consensus item with the peer that produced
// it, the unit apply_consensus receives each epoch (spec §6). Peers may
// contribute multiple times per epoch; only the last valid submission
// counts (spec §9, "peer-keyed signatures").
type PeerConsensusItem struct {
	Peer descriptor.PeerID
	Item ConsensusItem
}

// InputMeta is what validate_input/apply_input report to the outer
// transaction framework about a peg-in.
type InputMeta struct {
	AmountSats uint64
	FeeSats    uint64
	OwnerKeys  []*btcec.PublicKey
}

// TransactionItemAmount is what validate_output/apply_output report
// about a peg-out.
type TransactionItemAmount struct {
	AmountSats uint64
	FeeSats    uint64
}

// PegOutFees is the caller-supplied fee envelope on a PegOut request.
type PegOutFees struct {
	FeeRate    FeeRate
	AmountSats uint64
}

// PegOut is a withdrawal request routed through validate_output /
// apply_output.
type PegOut struct {
	AmountSats        uint64
	DestinationScript []byte
	DestinationNet    string // one of "mainnet", "testnet", "signet", "regtest"
	Fees              PegOutFees
}

// SPVProof is the caller-supplied merkle inclusion proof for a peg-in.
// It deliberately carries no merkle root of its own: the root a proof
// must fold to is the one committed by BlockHash's header, read back
// from the follower's known-block set, never a value the caller
// supplies (spec §4.E step 2).
type SPVProof struct {
	BlockHash    chainhash.Hash
	MerkleBranch []chainhash.Hash
	// BranchSideMask has bit i set when, at level i of the branch, the
	// supplied hash sits to the left of the running hash (i.e. the
	// running hash must be appended on the right). This is the
	// standard Bitcoin partial merkle tree left/right convention.
	BranchSideMask uint32
	TxIndex        uint32
}

// PegInProof is the caller-supplied deposit claim.
type PegInProof struct {
	BitcoinTx  *wire.MsgTx
	Proof      SPVProof
	ClaimKey   *btcec.PublicKey
	OutpointIx uint32 // populated by Validate once the paying output is found
}
