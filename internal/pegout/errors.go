package pegout

import "errors"

// Error kinds from spec §7.
var (
	ErrWrongNetwork           = errors.New("pegout: destination network does not match configured network")
	ErrPegOutFeeRate          = errors.New("pegout: fee rate below consensus floor")
	ErrNotEnoughSpendableUTXO = errors.New("pegout: insufficient spendable utxos")

	ErrWrongSignatureCount           = errors.New("pegout: wrong signature count")
	ErrSighash                       = errors.New("pegout: sighash computation failed")
	ErrInvalidSignature              = errors.New("pegout: invalid signature")
	ErrDuplicateSignature            = errors.New("pegout: duplicate signature for peer")
	ErrMissingOrMalformedChangeTweak = errors.New("pegout: missing or malformed change tweak")
	ErrFinalizingPSBT                = errors.New("pegout: could not finalize psbt")
)
