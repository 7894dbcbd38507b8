package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/types"
)

// signatureDTO is the JSON-friendly form of a types.PeerSignature: the
// database driver has no business understanding chainhash.Hash or
// descriptor.PeerID directly.
type signatureDTO struct {
	Peer       uint16   `json:"peer"`
	Txid       string   `json:"txid"`
	Signatures []string `json:"signatures"`
}

func encodeSignatures(sigs []types.PeerSignature) (string, error) {
	dtos := make([]signatureDTO, len(sigs))
	for i, s := range sigs {
		sigHex := make([]string, len(s.Item.Signatures))
		for j, sig := range s.Item.Signatures {
			sigHex[j] = hex.EncodeToString(sig)
		}
		dtos[i] = signatureDTO{Peer: uint16(s.Peer), Txid: s.Item.Txid.String(), Signatures: sigHex}
	}
	b, err := json.Marshal(dtos)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSignatures(raw string) ([]types.PeerSignature, error) {
	var dtos []signatureDTO
	if err := json.Unmarshal([]byte(raw), &dtos); err != nil {
		return nil, err
	}
	out := make([]types.PeerSignature, len(dtos))
	for i, d := range dtos {
		txid, err := chainhash.NewHashFromStr(d.Txid)
		if err != nil {
			return nil, err
		}
		sigs := make([][]byte, len(d.Signatures))
		for j, s := range d.Signatures {
			sig, err := hex.DecodeString(s)
			if err != nil {
				return nil, err
			}
			sigs[j] = sig
		}
		out[i] = types.PeerSignature{
			Peer: descriptor.PeerID(d.Peer),
			Item: types.PegOutSignatureItem{Txid: *txid, Signatures: sigs},
		}
	}
	return out, nil
}

// ReadUnsignedTransaction returns the queued peg-out keyed by txid, or
// nil if none is queued (it may already be finalized into a
// PendingTransaction, or never existed).
func (s *Store) ReadUnsignedTransaction(ctx context.Context, txid chainhash.Hash) (*types.UnsignedTransaction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT psbt, signatures, change_sats, fee_rate, total_weight FROM unsigned_transactions WHERE txid=?", txid.String())
	return scanUnsignedTransaction(row)
}

func scanUnsignedTransaction(row *sql.Row) (*types.UnsignedTransaction, error) {
	var psbtHex, sigJSON string
	var changeSats, feeRate uint64
	var totalWeight int64
	err := row.Scan(&psbtHex, &sigJSON, &changeSats, &feeRate, &totalWeight)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read unsigned transaction: %w", err)
	}
	raw, err := hex.DecodeString(psbtHex)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt psbt: %w", err)
	}
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("store: parse psbt: %w", err)
	}
	sigs, err := decodeSignatures(sigJSON)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt signatures: %w", err)
	}
	return &types.UnsignedTransaction{
		PSBT:        packet,
		Signatures:  sigs,
		ChangeSats:  changeSats,
		FeeRate:     types.FeeRate(feeRate),
		TotalWeight: totalWeight,
	}, nil
}

// WriteUnsignedTransaction upserts the queued peg-out keyed by txid.
func (s *Store) WriteUnsignedTransaction(ctx context.Context, txid chainhash.Hash, ut *types.UnsignedTransaction) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var buf bytes.Buffer
	if err := ut.PSBT.Serialize(&buf); err != nil {
		return fmt.Errorf("store: serialize psbt: %w", err)
	}
	sigJSON, err := encodeSignatures(ut.Signatures)
	if err != nil {
		return fmt.Errorf("store: encode signatures: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO unsigned_transactions (txid, psbt, signatures, change_sats, fee_rate, total_weight)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT(txid) DO UPDATE SET psbt=excluded.psbt, signatures=excluded.signatures,
			change_sats=excluded.change_sats, fee_rate=excluded.fee_rate, total_weight=excluded.total_weight`,
		txid.String(), hex.EncodeToString(buf.Bytes()), sigJSON, ut.ChangeSats, uint64(ut.FeeRate), ut.TotalWeight)
	if err != nil {
		return fmt.Errorf("store: write unsigned transaction: %w", err)
	}
	return nil
}

// DeleteUnsignedTransaction removes a queued peg-out, used once it
// finalizes into a PendingTransaction.
func (s *Store) DeleteUnsignedTransaction(ctx context.Context, txid chainhash.Hash) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM unsigned_transactions WHERE txid=?", txid.String())
	if err != nil {
		return fmt.Errorf("store: delete unsigned transaction %s: %w", txid, err)
	}
	return nil
}

// ListUnsignedTransactions returns every queued peg-out, used each
// epoch by signature aggregation.
func (s *Store) ListUnsignedTransactions(ctx context.Context) (map[chainhash.Hash]*types.UnsignedTransaction, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT txid, psbt, signatures, change_sats, fee_rate, total_weight FROM unsigned_transactions")
	if err != nil {
		return nil, fmt.Errorf("store: list unsigned transactions: %w", err)
	}
	defer rows.Close()

	out := make(map[chainhash.Hash]*types.UnsignedTransaction)
	for rows.Next() {
		var txidStr, psbtHex, sigJSON string
		var changeSats, feeRate uint64
		var totalWeight int64
		if err := rows.Scan(&txidStr, &psbtHex, &sigJSON, &changeSats, &feeRate, &totalWeight); err != nil {
			return nil, fmt.Errorf("store: scan unsigned transaction: %w", err)
		}
		txid, err := chainhash.NewHashFromStr(txidStr)
		if err != nil {
			return nil, err
		}
		raw, err := hex.DecodeString(psbtHex)
		if err != nil {
			return nil, err
		}
		packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
		if err != nil {
			return nil, fmt.Errorf("store: parse psbt: %w", err)
		}
		sigs, err := decodeSignatures(sigJSON)
		if err != nil {
			return nil, err
		}
		out[*txid] = &types.UnsignedTransaction{
			PSBT:        packet,
			Signatures:  sigs,
			ChangeSats:  changeSats,
			FeeRate:     types.FeeRate(feeRate),
			TotalWeight: totalWeight,
		}
	}
	return out, rows.Err()
}
