package descriptor

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Tweak is the 32-byte value mixed into federation keys to derive an
// unlinkable per-user or per-epoch script, per spec GLOSSARY "Tweak".
type Tweak [32]byte

// scalar computes HMAC-SHA256(key=pubCompressed, msg=tweak) as a
// scalar; a digest not below the curve order is rejected with an error
// rather than reduced. This is consensus-critical and must stay byte-exact
// between every signer and verifier.
func scalar(pubCompressed []byte, tweak Tweak) (*secp256k1.ModNScalar, error) {
	mac := hmac.New(sha256.New, pubCompressed)
	mac.Write(tweak[:])
	sum := mac.Sum(nil)

	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(sum); overflow {
		return nil, fmt.Errorf("descriptor: tweak scalar overflow")
	}
	return &s, nil
}

// TweakPublicKey returns pub + G*HMAC_SHA256(pub.SerializeCompressed(), tweak).
func TweakPublicKey(pub *btcec.PublicKey, tweak Tweak) (*btcec.PublicKey, error) {
	s, err := scalar(pub.SerializeCompressed(), tweak)
	if err != nil {
		return nil, err
	}

	var tweakPoint secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &tweakPoint)

	var pubPoint secp256k1.JacobianPoint
	pub.AsJacobian(&pubPoint)

	var sum secp256k1.JacobianPoint
	secp256k1.AddNonConst(&pubPoint, &tweakPoint, &sum)
	sum.ToAffine()

	if sum.X.IsZero() && sum.Y.IsZero() {
		return nil, fmt.Errorf("descriptor: tweaked public key is point at infinity")
	}
	return secp256k1.NewPublicKey(&sum.X, &sum.Y), nil
}

// TweakPrivateKey returns sk + HMAC_SHA256(pk.SerializeCompressed(), tweak)
// mod n, matching TweakPublicKey's effect on the corresponding point.
func TweakPrivateKey(sk *btcec.PrivateKey, tweak Tweak) (*btcec.PrivateKey, error) {
	pub := sk.PubKey()
	s, err := scalar(pub.SerializeCompressed(), tweak)
	if err != nil {
		return nil, err
	}

	var sum secp256k1.ModNScalar
	sum.Set(&sk.Key)
	sum.Add(s)
	if sum.IsZero() {
		return nil, fmt.Errorf("descriptor: tweaked private key is zero")
	}
	return secp256k1.NewPrivateKey(&sum), nil
}
