package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/types"
)

// ReadSpendableUTXO returns the UTXO at outpoint, or nil if it does not
// exist or has already been consumed.
func (s *Store) ReadSpendableUTXO(ctx context.Context, op types.OutPoint) (*types.SpendableUTXO, error) {
	row := s.db.QueryRowContext(ctx, "SELECT tweak, amount_sats FROM spendable_utxos WHERE txid=? AND tx_index=?", op.Txid.String(), op.Index)
	var tweakHex string
	var amount uint64
	err := row.Scan(&tweakHex, &amount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read utxo %s: %w", op, err)
	}
	tweakBytes, err := hex.DecodeString(tweakHex)
	if err != nil || len(tweakBytes) != 32 {
		return nil, fmt.Errorf("store: corrupt tweak for utxo %s", op)
	}
	var tw descriptor.Tweak
	copy(tw[:], tweakBytes)
	return &types.SpendableUTXO{OutPoint: op, Tweak: tw, AmountSats: amount}, nil
}

// WriteSpendableUTXO inserts a new UTXO. It fails if one already exists
// at this outpoint, enforcing spec §3 invariant 3 (every peg-in
// outpoint appears at most once).
func (s *Store) WriteSpendableUTXO(ctx context.Context, utxo types.SpendableUTXO) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	existed, err := checkExistence(ctx, tx, "SELECT txid FROM spendable_utxos WHERE txid=? AND tx_index=?",
		utxo.OutPoint.Txid.String(), utxo.OutPoint.Index)
	if err != nil {
		return fmt.Errorf("store: check utxo existence: %w", err)
	}
	if existed {
		return ErrAlreadyClaimed
	}

	err = execOne(ctx, tx,
		buildInsertionSQL("spendable_utxos", []string{"txid", "tx_index", "tweak", "amount_sats"}),
		utxo.OutPoint.Txid.String(), utxo.OutPoint.Index, hex.EncodeToString(utxo.Tweak[:]), utxo.AmountSats)
	if err != nil {
		return fmt.Errorf("store: insert utxo: %w", err)
	}
	return tx.Commit()
}

// DeleteSpendableUTXO removes a UTXO, used when a peg-out reserves it
// at output-apply time (spec §4.D step 4).
func (s *Store) DeleteSpendableUTXO(ctx context.Context, op types.OutPoint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM spendable_utxos WHERE txid=? AND tx_index=?", op.Txid.String(), op.Index)
	if err != nil {
		return fmt.Errorf("store: delete utxo %s: %w", op, err)
	}
	return nil
}

// ListSpendableUTXOs returns every currently spendable UTXO, used by
// coin selection and the audit routine.
func (s *Store) ListSpendableUTXOs(ctx context.Context) ([]types.SpendableUTXO, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT txid, tx_index, tweak, amount_sats FROM spendable_utxos")
	if err != nil {
		return nil, fmt.Errorf("store: list utxos: %w", err)
	}
	defer rows.Close()

	var out []types.SpendableUTXO
	for rows.Next() {
		var txidStr, tweakHex string
		var index uint32
		var amount uint64
		if err := rows.Scan(&txidStr, &index, &tweakHex, &amount); err != nil {
			return nil, fmt.Errorf("store: scan utxo: %w", err)
		}
		txid, err := chainhash.NewHashFromStr(txidStr)
		if err != nil {
			return nil, fmt.Errorf("store: corrupt utxo txid: %w", err)
		}
		tweakBytes, err := hex.DecodeString(tweakHex)
		if err != nil || len(tweakBytes) != 32 {
			return nil, fmt.Errorf("store: corrupt utxo tweak")
		}
		var tw descriptor.Tweak
		copy(tw[:], tweakBytes)
		out = append(out, types.SpendableUTXO{
			OutPoint:   types.OutPoint{Txid: *txid, Index: index},
			Tweak:      tw,
			AmountSats: amount,
		})
	}
	return out, rows.Err()
}
