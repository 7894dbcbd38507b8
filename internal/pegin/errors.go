package pegin

import "errors"

// Error kinds from spec §7, surfaced to the outer framework's
// transaction-rejection mechanism.
var (
	ErrUnknownPegInProofBlock = errors.New("pegin: proof references an unknown block")
	ErrPegInProofError        = errors.New("pegin: merkle proof does not verify")
	ErrNoMatchingOutput       = errors.New("pegin: no output pays the tweaked descriptor")
	ErrPegInAlreadyClaimed    = errors.New("pegin: outpoint already claimed")
)
