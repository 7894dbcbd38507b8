// Package pwire implements the one piece of consensus-critical PSBT
// wire format this module defines itself: the proprietary key carrying
// a 32-byte tweak on PSBT inputs and the change output (spec §6,
// "Bitcoin wire format"). It must stay byte-identical across every
// place the module reads or writes it, which is why it lives in one
// package instead of being reimplemented per caller.
package pwire

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/jkitman/minimint/internal/descriptor"
)

const (
	tweakKeyPrefix  = "fedimint"
	tweakKeySubtype = 0x00
)

// tweakKey is the proprietary key { prefix: "fedimint", subtype: 0x00,
// key: ∅ } serialized as <0xFC><len(prefix)><prefix><subtype>.
func tweakKey() []byte {
	k := make([]byte, 0, 2+len(tweakKeyPrefix))
	k = append(k, 0xFC, byte(len(tweakKeyPrefix)))
	k = append(k, tweakKeyPrefix...)
	k = append(k, tweakKeySubtype)
	return k
}

// SetInputTweak attaches tw to a PSBT input's proprietary fields.
func SetInputTweak(in *psbt.PInput, tw descriptor.Tweak) {
	removeTweak(&in.Unknowns)
	in.Unknowns = append(in.Unknowns, &psbt.Unknown{Key: tweakKey(), Value: append([]byte(nil), tw[:]...)})
}

// SetOutputTweak attaches tw to a PSBT output's proprietary fields.
func SetOutputTweak(out *psbt.POutput, tw descriptor.Tweak) {
	removeTweak(&out.Unknowns)
	out.Unknowns = append(out.Unknowns, &psbt.Unknown{Key: tweakKey(), Value: append([]byte(nil), tw[:]...)})
}

func removeTweak(unknowns *[]*psbt.Unknown) {
	key := tweakKey()
	kept := (*unknowns)[:0]
	for _, u := range *unknowns {
		if !bytes.Equal(u.Key, key) {
			kept = append(kept, u)
		}
	}
	*unknowns = kept
}

// InputTweak reads the tweak off a PSBT input, if present.
func InputTweak(in *psbt.PInput) (descriptor.Tweak, bool) {
	return findTweak(in.Unknowns)
}

// OutputTweak reads the tweak off a PSBT output, if present.
func OutputTweak(out *psbt.POutput) (descriptor.Tweak, bool) {
	return findTweak(out.Unknowns)
}

// HasOutputTweakKey reports whether out carries the proprietary tweak
// key at all, independent of whether its value is well-formed. Callers
// that must distinguish "no entry here, keep looking" from "entry
// present but malformed" (spec §7's MissingOrMalformedChangeTweak) use
// this before RequireOutputTweak.
func HasOutputTweakKey(out *psbt.POutput) bool {
	key := tweakKey()
	for _, u := range out.Unknowns {
		if bytes.Equal(u.Key, key) {
			return true
		}
	}
	return false
}

func findTweak(unknowns []*psbt.Unknown) (descriptor.Tweak, bool) {
	key := tweakKey()
	for _, u := range unknowns {
		if bytes.Equal(u.Key, key) {
			var tw descriptor.Tweak
			if len(u.Value) != 32 {
				return tw, false
			}
			copy(tw[:], u.Value)
			return tw, true
		}
	}
	return descriptor.Tweak{}, false
}

// RequireOutputTweak is OutputTweak but returns an error describing
// which of "missing" or "malformed" applies, matching the
// MissingOrMalformedChangeTweak error case in spec §7.
func RequireOutputTweak(out *psbt.POutput) (descriptor.Tweak, error) {
	key := tweakKey()
	for _, u := range out.Unknowns {
		if bytes.Equal(u.Key, key) {
			if len(u.Value) != 32 {
				return descriptor.Tweak{}, fmt.Errorf("pwire: malformed change tweak: %d bytes", len(u.Value))
			}
			var tw descriptor.Tweak
			copy(tw[:], u.Value)
			return tw, nil
		}
	}
	return descriptor.Tweak{}, fmt.Errorf("pwire: missing change tweak")
}
