package pegout

import (
	"context"
	"time"

	"github.com/jkitman/minimint/internal/bitcoinrpc"
	"github.com/jkitman/minimint/internal/logging"
	"github.com/jkitman/minimint/internal/store"
)

// broadcastInterval is how often a finalized-but-unconfirmed
// PendingTransaction is resubmitted to the node (spec §4.D, §5).
const broadcastInterval = 10 * time.Second

// Broadcaster resubmits every pending peg-out transaction on a fixed
// tick. Recognizing the change output in internal/chain does not remove
// a transaction from the pending set, so it keeps being resubmitted
// after it is mined. Resubmitting an already-mined or
// already-mempool transaction is a harmless no-op from the wallet
// state's perspective, so failures are logged and never propagated.
type Broadcaster struct {
	store *store.Store
	rpc   bitcoinrpc.Client
}

// NewBroadcaster builds a Broadcaster over st and rpc.
func NewBroadcaster(st *store.Store, rpc bitcoinrpc.Client) *Broadcaster {
	return &Broadcaster{store: st, rpc: rpc}
}

// Run ticks until ctx is canceled, broadcasting on every tick. Callers
// run this in its own goroutine, the role a TaskGroup member plays in
// the node this module is part of (spec §5).
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

func (b *Broadcaster) tick(ctx context.Context) {
	pending, err := b.store.ListPendingTransactions(ctx)
	if err != nil {
		logging.Warnf("pegout.Broadcaster: list pending transactions: %v", err)
		return
	}
	for txid, pt := range pending {
		if err := b.rpc.SubmitTransaction(ctx, pt.Tx); err != nil {
			logging.Verbosef("pegout.Broadcaster: resubmit %s: %v", txid, err)
		}
	}
}
