package store

import "errors"

// ErrAlreadyClaimed is returned by WriteSpendableUTXO when an outpoint
// has already been credited once, backing PegInAlreadyClaimed (spec §7).
var ErrAlreadyClaimed = errors.New("store: utxo already claimed")
