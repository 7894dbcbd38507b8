package store

import (
	"context"
	"fmt"
)

// AuditBalance sums every SpendableUTXO as a positive contribution and
// every outstanding UnsignedTransaction/PendingTransaction change amount
// as a negative one, backing spec §3 invariant 2 and the `audit`
// boundary operation of §6.
func (s *Store) AuditBalance(ctx context.Context) (int64, error) {
	utxos, err := s.ListSpendableUTXOs(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: audit utxos: %w", err)
	}
	var total int64
	for _, u := range utxos {
		total += int64(u.AmountSats)
	}

	unsigned, err := s.ListUnsignedTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: audit unsigned transactions: %w", err)
	}
	for _, ut := range unsigned {
		total -= int64(ut.ChangeSats)
	}

	pending, err := s.ListPendingTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: audit pending transactions: %w", err)
	}
	for _, pt := range pending {
		total -= int64(pt.ChangeSats)
	}

	return total, nil
}
