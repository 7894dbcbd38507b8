package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/jkitman/minimint/internal/types"
)

// WritePendingSignatureItem stashes our own signature contribution for
// txid, which ProposeConsensus republishes every epoch until the
// transaction finalizes (the PegOutTxSignatureCI record of spec §4.D).
func (s *Store) WritePendingSignatureItem(ctx context.Context, txid chainhash.Hash, item types.PegOutSignatureItem) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sigHex := make([]string, len(item.Signatures))
	for i, sig := range item.Signatures {
		sigHex[i] = hex.EncodeToString(sig)
	}
	b, err := json.Marshal(sigHex)
	if err != nil {
		return fmt.Errorf("store: encode pending signature item: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO pending_signature_items (txid, signatures) VALUES (?,?) ON CONFLICT(txid) DO UPDATE SET signatures=excluded.signatures",
		txid.String(), string(b))
	if err != nil {
		return fmt.Errorf("store: write pending signature item %s: %w", txid, err)
	}
	return nil
}

// DeletePendingSignatureItem removes our stashed contribution once its
// transaction finalizes or is otherwise retired.
func (s *Store) DeletePendingSignatureItem(ctx context.Context, txid chainhash.Hash) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM pending_signature_items WHERE txid=?", txid.String())
	if err != nil {
		return fmt.Errorf("store: delete pending signature item %s: %w", txid, err)
	}
	return nil
}

// ListPendingSignatureItems returns every signature item we are still
// waiting to see finalized, for ProposeConsensus to republish.
func (s *Store) ListPendingSignatureItems(ctx context.Context) ([]types.PegOutSignatureItem, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT txid, signatures FROM pending_signature_items")
	if err != nil {
		return nil, fmt.Errorf("store: list pending signature items: %w", err)
	}
	defer rows.Close()

	var out []types.PegOutSignatureItem
	for rows.Next() {
		var txidStr, sigJSON string
		if err := rows.Scan(&txidStr, &sigJSON); err != nil {
			return nil, fmt.Errorf("store: scan pending signature item: %w", err)
		}
		txid, err := chainhash.NewHashFromStr(txidStr)
		if err != nil {
			return nil, err
		}
		var sigHex []string
		if err := json.Unmarshal([]byte(sigJSON), &sigHex); err != nil {
			return nil, err
		}
		sigs := make([][]byte, len(sigHex))
		for i, s := range sigHex {
			sig, err := hex.DecodeString(s)
			if err != nil {
				return nil, err
			}
			sigs[i] = sig
		}
		out = append(out, types.PegOutSignatureItem{Txid: *txid, Signatures: sigs})
	}
	return out, rows.Err()
}
