package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/jkitman/minimint/internal/types"
)

// WriteOutputTxid records which Bitcoin txid a queued peg-out's output
// point maps to, so output_status can answer it (spec §6).
func (s *Store) WriteOutputTxid(ctx context.Context, out types.OutPoint, txid chainhash.Hash) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO output_status (out_txid, out_index, txid) VALUES (?,?,?) ON CONFLICT(out_txid, out_index) DO UPDATE SET txid=excluded.txid",
		out.Txid.String(), out.Index, txid.String())
	if err != nil {
		return fmt.Errorf("store: write output status %s: %w", out, err)
	}
	return nil
}

// ReadOutputTxid returns the Bitcoin txid a peg-out's output point maps
// to, or nil if the output is unknown.
func (s *Store) ReadOutputTxid(ctx context.Context, out types.OutPoint) (*chainhash.Hash, error) {
	row := s.db.QueryRowContext(ctx, "SELECT txid FROM output_status WHERE out_txid=? AND out_index=?", out.Txid.String(), out.Index)
	var txidStr string
	err := row.Scan(&txidStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read output status %s: %w", out, err)
	}
	txid, err := chainhash.NewHashFromStr(txidStr)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt output status txid: %w", err)
	}
	return txid, nil
}
