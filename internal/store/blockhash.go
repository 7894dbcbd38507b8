package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// WriteBlockHash records a block the federation has accepted as
// canonical up to the current consensus height, along with the merkle
// root its header commits to (spec §3, BlockHashKey). merkleRoot is the
// root peg-in merkle proofs against this block must fold to; it comes
// from the block's own header, never from a caller-supplied proof.
func (s *Store) WriteBlockHash(ctx context.Context, height uint64, hash chainhash.Hash, merkleRoot chainhash.Hash) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO block_hashes (height, hash, merkle_root) VALUES (?,?,?) ON CONFLICT(height) DO UPDATE SET hash=excluded.hash, merkle_root=excluded.merkle_root",
		height, hash.String(), merkleRoot.String())
	if err != nil {
		return fmt.Errorf("store: write block hash at %d: %w", height, err)
	}
	return nil
}

// HasBlockHash reports whether hash has been accepted as canonical.
func (s *Store) HasBlockHash(ctx context.Context, hash chainhash.Hash) (bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT height FROM block_hashes WHERE hash=?", hash.String())
	var height uint64
	err := row.Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: check block hash %s: %w", hash, err)
	}
	return true, nil
}

// BlockMerkleRoot returns the merkle root committed by hash's header, as
// recorded by WriteBlockHash, used by peg-in validation (spec §4.E step
// 1-2) to bind a proof to the block it claims to be in rather than to a
// caller-supplied root.
func (s *Store) BlockMerkleRoot(ctx context.Context, hash chainhash.Hash) (chainhash.Hash, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT merkle_root FROM block_hashes WHERE hash=?", hash.String())
	var rootHex string
	err := row.Scan(&rootHex)
	if errors.Is(err, sql.ErrNoRows) {
		return chainhash.Hash{}, false, nil
	}
	if err != nil {
		return chainhash.Hash{}, false, fmt.Errorf("store: read merkle root for block %s: %w", hash, err)
	}
	root, err := chainhash.NewHashFromStr(rootHex)
	if err != nil {
		return chainhash.Hash{}, false, fmt.Errorf("store: parse merkle root for block %s: %w", hash, err)
	}
	return *root, true, nil
}

// HasBlockAtHeight reports whether the follower has already recorded a
// hash at height, used to make resync idempotent (spec §4.B, scenario 5).
func (s *Store) HasBlockAtHeight(ctx context.Context, height uint64) (bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT hash FROM block_hashes WHERE height=?", height)
	var hash string
	err := row.Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: check block at height %d: %w", height, err)
	}
	return true, nil
}
