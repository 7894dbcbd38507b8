// Package descriptor implements the federation's output descriptor: a
// sorted-multisig script over the peers' compressed public keys, plus
// the HMAC-based tweak that derives unlinkable per-claim and per-epoch
// variants of it. Every function here is pure; no network or storage
// access happens in this package.
package descriptor

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
)

// PeerID identifies one federation member. Peers are ordered by this
// value wherever a deterministic order matters (descriptor key order,
// tie-breaking in median computations, BFT delivery replay).
type PeerID uint16

// Descriptor is the federation's fixed miniscript-equivalent policy: a
// sorted k-of-n multisig over the peer public keys, threshold = 2n/3+1.
// It never changes after federation genesis.
type Descriptor struct {
	peers     []PeerID
	pubKeys   map[PeerID]*btcec.PublicKey
	threshold int
}

// New builds a Descriptor from a peer->pubkey mapping. The threshold is
// fixed at 2n/3+1 as specified in §3; callers that need a different
// federation policy should use NewWithThreshold.
func New(pubKeys map[PeerID]*btcec.PublicKey) (*Descriptor, error) {
	n := len(pubKeys)
	if n == 0 {
		return nil, fmt.Errorf("descriptor: empty peer set")
	}
	threshold := 2*n/3 + 1
	return NewWithThreshold(pubKeys, threshold)
}

// NewWithThreshold builds a Descriptor with an explicit threshold,
// primarily for tests that want to exercise boundary values.
func NewWithThreshold(pubKeys map[PeerID]*btcec.PublicKey, threshold int) (*Descriptor, error) {
	if len(pubKeys) == 0 {
		return nil, fmt.Errorf("descriptor: empty peer set")
	}
	if threshold <= 0 || threshold > len(pubKeys) {
		return nil, fmt.Errorf("descriptor: threshold %d out of range for %d peers", threshold, len(pubKeys))
	}
	peers := make([]PeerID, 0, len(pubKeys))
	for id := range pubKeys {
		peers = append(peers, id)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return &Descriptor{peers: peers, pubKeys: pubKeys, threshold: threshold}, nil
}

// Peers returns the sorted peer id list.
func (d *Descriptor) Peers() []PeerID {
	out := make([]PeerID, len(d.peers))
	copy(out, d.peers)
	return out
}

// Threshold returns the number of valid signatures required to finalize
// a spend from this descriptor.
func (d *Descriptor) Threshold() int { return d.threshold }

// PublicKey returns the untweaked public key of a peer, or nil if the
// peer is unknown to this descriptor.
func (d *Descriptor) PublicKey(id PeerID) *btcec.PublicKey {
	return d.pubKeys[id]
}

// sortedPubKeyBytes returns the peers' compressed pubkeys, lexically
// sorted the way BIP67/sortedmulti requires so two descriptors built
// from the same key set always produce an identical script.
func sortedPubKeyBytes(keys [][]byte) [][]byte {
	out := make([][]byte, len(keys))
	copy(out, keys)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

// Tweak instantiates the descriptor for a given 32-byte tweak: every
// peer placeholder Pk is replaced by TweakPublicKey(Pk, tweak). The
// result must be byte-identical for every signer and verifier, since it
// determines the script pubkey peg-ins pay into and peg-out signatures
// validate under.
func (d *Descriptor) Tweak(tweak Tweak) (*TweakedDescriptor, error) {
	tweaked := make(map[PeerID]*btcec.PublicKey, len(d.peers))
	compressed := make([][]byte, 0, len(d.peers))
	for _, id := range d.peers {
		tpk, err := TweakPublicKey(d.pubKeys[id], tweak)
		if err != nil {
			return nil, fmt.Errorf("descriptor: tweak peer %d: %w", id, err)
		}
		tweaked[id] = tpk
		compressed = append(compressed, tpk.SerializeCompressed())
	}
	return &TweakedDescriptor{
		base:      d,
		tweak:     tweak,
		pubKeys:   tweaked,
		sortedPKs: sortedPubKeyBytes(compressed),
	}, nil
}

// MaxSatisfactionWeight is the worst-case weight of a witness that
// satisfies this descriptor: a leading OP_0 (CHECKMULTISIG's off-by-one
// bug), `threshold` DER signatures (up to 72 bytes + push + sighash
// byte), and the witness script itself with its push. Used by
// internal/wallet's coin selection fee accumulator.
func (d *Descriptor) MaxSatisfactionWeight() int64 {
	const maxDERSigWithSighash = 73
	witnessScriptLen := 3 + len(d.peers)*34 // see script.go layout

	total := int64(1) // OP_0 push (empty item, 1 byte length prefix)
	for i := 0; i < d.threshold; i++ {
		total += 1 + maxDERSigWithSighash // length prefix + sig
	}
	total += 2 + int64(witnessScriptLen) // length prefix (possibly 2 bytes) + script
	return total
}
