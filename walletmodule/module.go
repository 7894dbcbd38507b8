// Package walletmodule is the boundary facade of spec §6: the four
// operations the host consensus framework drives each epoch
// (ProposeConsensus, ApplyConsensus, ValidateInput/ApplyInput,
// ValidateOutput/ApplyOutput) plus the two read-only RPC endpoints
// (BlockHeight, PegOutFees). Every other package in this tree covers
// one subsystem; this is the only place that ties them together into
// the shape an outer framework expects to drive.
package walletmodule

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/jkitman/minimint/internal/bitcoinrpc"
	"github.com/jkitman/minimint/internal/chain"
	"github.com/jkitman/minimint/internal/consensus"
	"github.com/jkitman/minimint/internal/descriptor"
	"github.com/jkitman/minimint/internal/logging"
	"github.com/jkitman/minimint/internal/pegin"
	"github.com/jkitman/minimint/internal/pegout"
	"github.com/jkitman/minimint/internal/randbeacon"
	"github.com/jkitman/minimint/internal/store"
	"github.com/jkitman/minimint/internal/types"
)

// Module wires every wallet subsystem behind the host framework's
// consensus module contract.
type Module struct {
	store    *store.Store
	fed      *descriptor.Descriptor
	rpc      bitcoinrpc.Client
	rand     randbeacon.Source
	follower *chain.Follower
	engine   *consensus.Engine
	pegIn    *pegin.Validator
	pegOut   *pegout.Pipeline

	ourPeer        descriptor.PeerID
	finalityDelay  uint64
	defaultFeeRate types.FeeRate
}

// Config collects everything Module needs to build its subsystems,
// matching the federation genesis configuration of spec §6.
type Config struct {
	Store            *store.Store
	Federation       *descriptor.Descriptor
	RPC              bitcoinrpc.Client
	RandSource       randbeacon.Source
	Network          *chaincfg.Params
	OurPeer          descriptor.PeerID
	OurSecretKey     *btcec.PrivateKey
	FinalityDelay    uint64
	DefaultFeeRate   types.FeeRate
	PegInAbsFeeSats  uint64
	PegOutAbsFeeSats uint64
}

// New builds a Module from cfg.
func New(cfg Config) *Module {
	follower := chain.NewFollower(cfg.Store, cfg.RPC, cfg.Federation)
	return &Module{
		store:          cfg.Store,
		fed:            cfg.Federation,
		rpc:            cfg.RPC,
		rand:           cfg.RandSource,
		follower:       follower,
		engine:         consensus.NewEngine(cfg.Store, follower),
		pegIn:          pegin.NewValidator(cfg.Store, cfg.Federation, cfg.PegInAbsFeeSats),
		pegOut:         pegout.NewPipeline(cfg.Store, cfg.Federation, cfg.Network, cfg.OurPeer, cfg.OurSecretKey, cfg.PegOutAbsFeeSats),
		ourPeer:        cfg.OurPeer,
		finalityDelay:  cfg.FinalityDelay,
		defaultFeeRate: cfg.DefaultFeeRate,
	}
}

// Broadcaster returns a broadcaster over this module's store and RPC
// client, for the caller's task group to run alongside epoch handling.
func (m *Module) Broadcaster() *pegout.Broadcaster {
	return pegout.NewBroadcaster(m.store, m.rpc)
}

// ProposeConsensus returns this peer's round proposal plus every
// pending signature item still awaiting finalization (spec §4.C,
// §4.D "Signature item propagation").
func (m *Module) ProposeConsensus(ctx context.Context) ([]types.ConsensusItem, error) {
	target, err := m.follower.TargetHeight(ctx, m.finalityDelay)
	if err != nil {
		return nil, fmt.Errorf("walletmodule: target height: %w", err)
	}

	lastHeight := uint32(0)
	if rc, err := m.store.ReadRoundConsensus(ctx); err != nil {
		return nil, fmt.Errorf("walletmodule: read round consensus: %w", err)
	} else if rc != nil {
		lastHeight = rc.BlockHeight
	}
	height := uint32(target)
	if lastHeight > height {
		height = lastHeight
	}

	feeRate := m.defaultFeeRate
	if rpcRate, ok, err := m.rpc.GetFeeRate(ctx); err != nil {
		return nil, fmt.Errorf("walletmodule: get fee rate: %w", err)
	} else if ok {
		feeRate = rpcRate
	}

	contribution, err := m.rand.Contribution()
	if err != nil {
		return nil, fmt.Errorf("walletmodule: randomness contribution: %w", err)
	}

	items := []types.ConsensusItem{{
		Round: &types.RoundConsensusItem{
			BlockHeight:      height,
			FeeRate:          feeRate,
			RandomnessBeacon: contribution,
		},
	}}

	pending, err := m.store.ListPendingSignatureItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("walletmodule: list pending signature items: %w", err)
	}
	for _, item := range pending {
		item := item
		items = append(items, types.ConsensusItem{PegOutSignature: &item})
	}
	return items, nil
}

// ApplyConsensus folds the epoch's delivered items into RoundConsensus
// and queued transactions, then runs signature aggregation/finalization
// and reports the peers to drop for failing to sign (spec §4.C, §4.D).
func (m *Module) ApplyConsensus(ctx context.Context, items []types.PeerConsensusItem, consensusPeers []descriptor.PeerID) ([]descriptor.PeerID, error) {
	if err := m.engine.Apply(ctx, items); err != nil {
		return nil, fmt.Errorf("walletmodule: apply consensus: %w", err)
	}
	drop, err := m.pegOut.FinalizePending(ctx, consensusPeers)
	if err != nil {
		return nil, fmt.Errorf("walletmodule: finalize pending peg-outs: %w", err)
	}
	if len(drop) > 0 {
		logging.Warnf("walletmodule.ApplyConsensus: dropping misbehaving peers %v", drop)
	}
	return drop, nil
}

// ValidateInput checks a peg-in claim without mutating state.
func (m *Module) ValidateInput(ctx context.Context, proof *types.PegInProof) (*types.InputMeta, error) {
	return m.pegIn.Validate(ctx, proof)
}

// ApplyInput credits the claimed output as a SpendableUTXO. proof must
// have already passed ValidateInput in this same round so its
// OutpointIx is populated.
func (m *Module) ApplyInput(ctx context.Context, proof *types.PegInProof, amountSats uint64) error {
	return m.pegIn.Apply(ctx, proof, amountSats)
}

// ValidateOutput checks a peg-out request against the current round
// consensus without mutating state.
func (m *Module) ValidateOutput(ctx context.Context, pegOut *types.PegOut) (*types.TransactionItemAmount, error) {
	rc, err := m.requireRoundConsensus(ctx)
	if err != nil {
		return nil, err
	}
	return m.pegOut.ValidateOutput(ctx, pegOut, rc)
}

// ApplyOutput builds, locally signs, and queues a peg-out for signature
// aggregation.
func (m *Module) ApplyOutput(ctx context.Context, pegOut *types.PegOut, outPoint types.OutPoint) (*types.TransactionItemAmount, error) {
	rc, err := m.requireRoundConsensus(ctx)
	if err != nil {
		return nil, err
	}
	return m.pegOut.ApplyOutput(ctx, pegOut, outPoint, rc)
}

// OutputStatus reports the Bitcoin txid a previously applied peg-out
// output resolved to, if any.
func (m *Module) OutputStatus(ctx context.Context, outPoint types.OutPoint) (*chainhash.Hash, error) {
	return m.store.ReadOutputTxid(ctx, outPoint)
}

// Audit sums every spendable UTXO against every outstanding change
// reservation, the module's standing solvency check (spec §3).
func (m *Module) Audit(ctx context.Context) (int64, error) {
	return m.store.AuditBalance(ctx)
}

// BlockHeight is the read-only RPC endpoint reporting the node's raw
// chain tip, independent of the federation's finality-delayed view.
func (m *Module) BlockHeight(ctx context.Context) (uint64, error) {
	return m.rpc.GetBlockHeight(ctx)
}

// PegOutFees is the read-only RPC endpoint estimating the cost of a
// peg-out at the current round consensus.
func (m *Module) PegOutFees(ctx context.Context, destinationScript []byte, amountSats uint64) (*types.PegOutFees, bool, error) {
	rc, err := m.requireRoundConsensus(ctx)
	if err != nil {
		return nil, false, err
	}
	return m.pegOut.PegOutFees(ctx, destinationScript, amountSats, rc)
}

func (m *Module) requireRoundConsensus(ctx context.Context) (*types.RoundConsensus, error) {
	rc, err := m.store.ReadRoundConsensus(ctx)
	if err != nil {
		return nil, fmt.Errorf("walletmodule: read round consensus: %w", err)
	}
	if rc == nil {
		return nil, fmt.Errorf("walletmodule: no round consensus has been reached yet")
	}
	return rc, nil
}
