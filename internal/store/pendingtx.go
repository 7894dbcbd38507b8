package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/types"
)

// ReadPendingTransaction returns the finalized, broadcastable
// transaction keyed by txid, or nil if none exists.
func (s *Store) ReadPendingTransaction(ctx context.Context, txid chainhash.Hash) (*types.PendingTransaction, error) {
	row := s.db.QueryRowContext(ctx, "SELECT raw_tx, change_tweak, change_sats FROM pending_transactions WHERE txid=?", txid.String())
	return scanPendingTransaction(row)
}

func scanPendingTransaction(row *sql.Row) (*types.PendingTransaction, error) {
	var rawHex, tweakHex string
	var changeSats uint64
	err := row.Scan(&rawHex, &tweakHex, &changeSats)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read pending transaction: %w", err)
	}
	return decodePendingTransaction(rawHex, tweakHex, changeSats)
}

func decodePendingTransaction(rawHex, tweakHex string, changeSats uint64) (*types.PendingTransaction, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt raw tx: %w", err)
	}
	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("store: deserialize tx: %w", err)
	}
	tweakBytes, err := hex.DecodeString(tweakHex)
	if err != nil || len(tweakBytes) != 32 {
		return nil, fmt.Errorf("store: corrupt change tweak")
	}
	var tw descriptor.Tweak
	copy(tw[:], tweakBytes)
	return &types.PendingTransaction{Tx: tx, ChangeTweak: tw, ChangeSats: changeSats}, nil
}

// WritePendingTransaction inserts a newly-finalized transaction. It is
// a logic error to call this twice for the same txid; the peg-out
// pipeline only ever transitions an UnsignedTransaction into a
// PendingTransaction once.
func (s *Store) WritePendingTransaction(ctx context.Context, txid chainhash.Hash, pt *types.PendingTransaction) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var buf bytes.Buffer
	if err := pt.Tx.Serialize(&buf); err != nil {
		return fmt.Errorf("store: serialize tx: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = execOne(ctx, tx,
		buildInsertionSQL("pending_transactions", []string{"txid", "raw_tx", "change_tweak", "change_sats"}),
		txid.String(), hex.EncodeToString(buf.Bytes()), hex.EncodeToString(pt.ChangeTweak[:]), pt.ChangeSats)
	if err != nil {
		return fmt.Errorf("store: insert pending transaction: %w", err)
	}
	return tx.Commit()
}

// ListPendingTransactions returns every pending transaction, used by
// the broadcaster and the chain follower's change-recognition pass.
func (s *Store) ListPendingTransactions(ctx context.Context) (map[chainhash.Hash]*types.PendingTransaction, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT txid, raw_tx, change_tweak, change_sats FROM pending_transactions")
	if err != nil {
		return nil, fmt.Errorf("store: list pending transactions: %w", err)
	}
	defer rows.Close()

	out := make(map[chainhash.Hash]*types.PendingTransaction)
	for rows.Next() {
		var txidStr, rawHex, tweakHex string
		var changeSats uint64
		if err := rows.Scan(&txidStr, &rawHex, &tweakHex, &changeSats); err != nil {
			return nil, fmt.Errorf("store: scan pending transaction: %w", err)
		}
		txid, err := chainhash.NewHashFromStr(txidStr)
		if err != nil {
			return nil, err
		}
		pt, err := decodePendingTransaction(rawHex, tweakHex, changeSats)
		if err != nil {
			return nil, err
		}
		out[*txid] = pt
	}
	return out, rows.Err()
}
