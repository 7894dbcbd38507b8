// Package config loads the federation's genesis configuration: the
// wallet descriptor, this peer's secret key, the fee-consensus floors,
// and the Bitcoin RPC endpoint (spec §6). Configuration is long-lived
// and operator-edited, so it lives in a TOML file on disk exactly like
// the teacher's keeper/signer/observer configs, with a handful of
// operational knobs overridable from the environment.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml"

	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/types"
)

// PeerKey is one federation member's id and hex-encoded compressed
// public key, as it appears in the TOML peer_pubkeys table.
type PeerKey struct {
	Peer   uint16 `toml:"peer"`
	PubKey string `toml:"pubkey"`
}

// FeeConsensus holds the flat absolute fees charged per peg-in and per
// peg-out, folded into InputMeta/TransactionItemAmount. The per-weight
// fee-rate floor checked at validation time is not configured here; it
// is the round consensus fee rate.
type FeeConsensus struct {
	PegInAbsSats  uint64 `toml:"peg_in_abs"`
	PegOutAbsSats uint64 `toml:"peg_out_abs"`
}

// BitcoinRPC describes the node this federation member dials for chain
// data and broadcast. Endpoint and PollInterval are the operational
// knobs operators commonly override per environment without touching
// the federation file; they carry envconfig tags for that reason.
type BitcoinRPC struct {
	Endpoint     string `toml:"endpoint" envconfig:"MINIMINT_RPC_ENDPOINT"`
	User         string `toml:"user" envconfig:"MINIMINT_RPC_USER"`
	Pass         string `toml:"pass" envconfig:"MINIMINT_RPC_PASS"`
	PollInterval int    `toml:"poll_interval_secs" envconfig:"MINIMINT_RPC_POLL_INTERVAL_SECS" default:"10"`
}

// Configuration is the on-disk shape of spec §6's Configuration: the
// descriptor (as peer_pubkeys plus threshold), this peer's secret key,
// the network, the finality delay, and the fee floors. Threshold and
// FinalityDelay are fixed at federation genesis and never change once
// the descriptor is built.
type Configuration struct {
	OurPeer        uint16       `toml:"our_peer"`
	OurSecretKey   string       `toml:"our_secret_key"`
	PeerPubKeys    []PeerKey    `toml:"peer_pubkeys"`
	Threshold      int          `toml:"threshold"`
	Network        string       `toml:"network"`
	FinalityDelay  uint64       `toml:"finality_delay"`
	DefaultFeeRate uint64       `toml:"default_fee_rate"`
	FeeConsensus   FeeConsensus `toml:"fee_consensus"`
	BitcoinRPC     BitcoinRPC   `toml:"bitcoin_rpc"`
}

// Load reads and parses the TOML file at path, then applies any
// environment overrides declared on BitcoinRPC.
func Load(path string) (*Configuration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var conf Configuration
	if err := toml.Unmarshal(raw, &conf); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := envconfig.Process("", &conf.BitcoinRPC); err != nil {
		return nil, fmt.Errorf("config: environment overrides: %w", err)
	}
	return &conf, nil
}

// Descriptor builds the federation descriptor from PeerPubKeys and
// Threshold. Keys are hex-decoded and parsed as compressed secp256k1
// points; a malformed key is a startup failure, not a per-transaction
// one.
func (c *Configuration) Descriptor() (*descriptor.Descriptor, error) {
	pubKeys := make(map[descriptor.PeerID]*btcec.PublicKey, len(c.PeerPubKeys))
	for _, pk := range c.PeerPubKeys {
		raw, err := hex.DecodeString(pk.PubKey)
		if err != nil {
			return nil, fmt.Errorf("config: peer %d pubkey: %w", pk.Peer, err)
		}
		key, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("config: peer %d pubkey: %w", pk.Peer, err)
		}
		pubKeys[descriptor.PeerID(pk.Peer)] = key
	}
	if c.Threshold <= 0 {
		return nil, fmt.Errorf("config: threshold must be positive, got %d", c.Threshold)
	}
	return descriptor.NewWithThreshold(pubKeys, c.Threshold)
}

// SecretKey parses OurSecretKey as a hex-encoded 32-byte scalar.
func (c *Configuration) SecretKey() (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(c.OurSecretKey)
	if err != nil {
		return nil, fmt.Errorf("config: our_secret_key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("config: our_secret_key: want 32 bytes, got %d", len(raw))
	}
	sk, _ := btcec.PrivKeyFromBytes(raw)
	return sk, nil
}

// NetworkParams resolves Network to a chaincfg.Params, matching the
// peg-out validator's network-compatibility checks (spec §6
// "WrongNetwork").
func (c *Configuration) NetworkParams() (*chaincfg.Params, error) {
	switch c.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("config: unknown network %q", c.Network)
	}
}

// FeeRate is DefaultFeeRate as the domain's FeeRate type, used as the
// fallback round proposal when the RPC node has no fee estimate yet.
func (c *Configuration) FeeRate() types.FeeRate {
	return types.FeeRate(c.DefaultFeeRate)
}
