package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/jkitman/minimint/internal/types"
)

// ReadRoundConsensus returns the single agreed-upon round value, or nil
// before the first epoch has completed (spec §3 invariant 1).
func (s *Store) ReadRoundConsensus(ctx context.Context) (*types.RoundConsensus, error) {
	row := s.db.QueryRowContext(ctx, "SELECT block_height, fee_rate, randomness_beacon FROM round_consensus WHERE id=1")
	var height uint32
	var feeRate uint64
	var beaconHex string
	err := row.Scan(&height, &feeRate, &beaconHex)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read round consensus: %w", err)
	}
	beacon, err := hex.DecodeString(beaconHex)
	if err != nil || len(beacon) != 32 {
		return nil, fmt.Errorf("store: corrupt randomness beacon")
	}
	rc := &types.RoundConsensus{BlockHeight: height, FeeRate: types.FeeRate(feeRate)}
	copy(rc.RandomnessBeacon[:], beacon)
	return rc, nil
}

// WriteRoundConsensus overwrites the single RoundConsensus row. Callers
// are responsible for enforcing the monotonic-height invariant before
// calling this (spec §3 invariant 5, §4.C).
func (s *Store) WriteRoundConsensus(ctx context.Context, rc *types.RoundConsensus) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO round_consensus (id, block_height, fee_rate, randomness_beacon) VALUES (1,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET block_height=excluded.block_height, fee_rate=excluded.fee_rate, randomness_beacon=excluded.randomness_beacon`,
		rc.BlockHeight, uint64(rc.FeeRate), hex.EncodeToString(rc.RandomnessBeacon[:]))
	if err != nil {
		return fmt.Errorf("store: write round consensus: %w", err)
	}
	return nil
}
