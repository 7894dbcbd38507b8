package pegin

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/jkitman/minimint/internal/types"
)

// verifyMerkleProof replays the standard Bitcoin merkle branch algorithm:
// at each level the running hash is combined with its sibling (ordered
// by which side the sibling sits on, per BranchSideMask) and the pair is
// double-SHA256 hashed. A level where the prover's source tree had an
// odd node out duplicates that node as its own sibling, which this
// replay handles transparently since the sibling hash is just whatever
// value the proof supplies. The branch must fold to committedRoot, the
// root read back from the claimed block's own header — never a value
// the proof itself supplies, since that would let a forger pair any
// already-accepted block hash with a fabricated root (spec §4.E step 2).
func verifyMerkleProof(txid chainhash.Hash, proof types.SPVProof, committedRoot chainhash.Hash) bool {
	running := txid
	for i, sibling := range proof.MerkleBranch {
		var buf [64]byte
		if proof.BranchSideMask&(1<<uint(i)) != 0 {
			copy(buf[:32], sibling[:])
			copy(buf[32:], running[:])
		} else {
			copy(buf[:32], running[:])
			copy(buf[32:], sibling[:])
		}
		running = chainhash.DoubleHashH(buf[:])
	}
	return running == committedRoot
}
