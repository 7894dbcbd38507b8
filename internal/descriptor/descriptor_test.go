package descriptor

import (
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func randKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return sk
}

func randTweak(t *testing.T) Tweak {
	t.Helper()
	var tw Tweak
	_, err := rand.Read(tw[:])
	require.NoError(t, err)
	return tw
}

func TestTweakRoundTrip(t *testing.T) {
	sk := randKey(t)
	tw := randTweak(t)

	tweakedPub, err := TweakPublicKey(sk.PubKey(), tw)
	require.NoError(t, err)

	tweakedSk, err := TweakPrivateKey(sk, tw)
	require.NoError(t, err)

	require.Equal(t, tweakedPub.SerializeCompressed(), tweakedSk.PubKey().SerializeCompressed(),
		"tweaking the secret key must yield the key matching the tweaked public key")
}

func TestDescriptorDeterministicScript(t *testing.T) {
	keys := map[PeerID]*btcec.PublicKey{
		0: randKey(t).PubKey(),
		1: randKey(t).PubKey(),
		2: randKey(t).PubKey(),
		3: randKey(t).PubKey(),
	}
	d, err := New(keys)
	require.NoError(t, err)
	require.Equal(t, 3, d.Threshold()) // 2*4/3+1 = 3

	tw := randTweak(t)
	a, err := d.Tweak(tw)
	require.NoError(t, err)
	b, err := d.Tweak(tw)
	require.NoError(t, err)

	spkA, err := a.ScriptPubKey()
	require.NoError(t, err)
	spkB, err := b.ScriptPubKey()
	require.NoError(t, err)
	require.Equal(t, spkA, spkB)

	other, err := d.Tweak(randTweak(t))
	require.NoError(t, err)
	spkOther, err := other.ScriptPubKey()
	require.NoError(t, err)
	require.NotEqual(t, spkA, spkOther)
}

func TestNewWithThresholdRejectsOutOfRange(t *testing.T) {
	keys := map[PeerID]*btcec.PublicKey{0: randKey(t).PubKey()}
	_, err := NewWithThreshold(keys, 2)
	require.Error(t, err)
}
