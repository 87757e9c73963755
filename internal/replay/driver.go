package replay

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"

	"github.com/carlbeek/gas-repricer/internal/facts"
	"github.com/carlbeek/gas-repricer/internal/gaspolicy"
	"github.com/carlbeek/gas-repricer/internal/tracerhooks"
)

// HeaderSource resolves ancestor headers for BLOCKHASH lookups during EVM
// execution; it mirrors the ChainContext interface devlongs' analyzer.go
// implemented ad hoc against a live RPC connection.
type HeaderSource interface {
	GetHeader(hash common.Hash, number uint64) *types.Header
}

type chainContext struct {
	headers HeaderSource
}

func (c chainContext) Engine() consensus.Engine { return nil }
func (c chainContext) GetHeader(hash common.Hash, number uint64) *types.Header {
	if c.headers == nil {
		return nil
	}
	return c.headers.GetHeader(hash, number)
}

// TxPair is the paired per-transaction fact set the driver yields (spec
// §4.4): one TxFacts from the baseline pass, one from the experimental
// pass.
type TxPair struct {
	TxIndex    int
	TxHash     common.Hash
	Normal     facts.TxFacts
	Experiment facts.TxFacts
}

// ErrSkip marks a recoverable per-block failure per spec §7.1: the block
// is logged and skipped, never retried.
type ErrSkip struct {
	Block uint64
	Cause error
}

func (e *ErrSkip) Error() string {
	return fmt.Sprintf("replay: skipping block %d: %v", e.Block, e.Cause)
}
func (e *ErrSkip) Unwrap() error { return e.Cause }

// Driver is the ReplayDriver described in spec §4.4.
type Driver struct {
	states                       StateSource
	headers                      HeaderSource
	evm                          EvmFactory
	chain                        *params.ChainConfig
	policy                       gaspolicy.Policy
	fingerprintIncludesTransient bool
}

// NewDriver constructs a Driver. evm may be nil, in which case
// DefaultEvmFactory is used. includeTransient is forwarded to every
// inspector it constructs (config.FingerprintIncludesTransient, spec §9
// Open Question #2).
func NewDriver(states StateSource, headers HeaderSource, evm EvmFactory, chain *params.ChainConfig, policy gaspolicy.Policy, includeTransient bool) *Driver {
	if evm == nil {
		evm = DefaultEvmFactory{}
	}
	return &Driver{states: states, headers: headers, evm: evm, chain: chain, policy: policy, fingerprintIncludesTransient: includeTransient}
}

// Analyze implements spec §4.4's algorithm. baselineResult is optional; if
// supplied its receipts seed each transaction's terminal status/gas_used
// instead of deriving them from a local baseline execution (the host does
// not ship inspector output with its result, so a TrackingInspector pass
// always still runs to recover ops/calls/logs/fingerprint).
func (d *Driver) Analyze(ctx context.Context, block *types.Block, baselineResult *BlockExecutionResult) ([]TxPair, error) {
	if block.NumberU64() == 0 {
		return nil, &ErrSkip{Block: 0, Cause: fmt.Errorf("genesis block has no parent state")}
	}

	var normalDB, expDB *state.StateDB
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		db, err := d.states.SnapshotAt(gctx, block.NumberU64())
		if err != nil {
			return err
		}
		normalDB = db
		return nil
	})
	g.Go(func() error {
		db, err := d.states.SnapshotAt(gctx, block.NumberU64())
		if err != nil {
			return err
		}
		expDB = db
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, &ErrSkip{Block: block.NumberU64(), Cause: fmt.Errorf("snapshot acquisition failed: %w", err)}
	}

	blockCtx := core.NewEVMBlockContext(block.Header(), chainContext{headers: d.headers}, nil)
	signer := types.LatestSignerForChainID(d.chain.ChainID)

	pairs := make([]TxPair, 0, len(block.Transactions()))

	for i, tx := range block.Transactions() {
		msg, err := core.TransactionToMessage(tx, signer, block.BaseFee())
		if err != nil {
			return nil, &ErrSkip{Block: block.NumberU64(), Cause: fmt.Errorf("tx %d: failed to build message: %w", i, err)}
		}

		normalFacts, err := d.runNormalPass(blockCtx, msg, normalDB)
		if err != nil {
			return nil, &ErrSkip{Block: block.NumberU64(), Cause: fmt.Errorf("tx %d normal pass: %w", i, err)}
		}
		if baselineResult != nil && i < len(baselineResult.Receipts) {
			applyReceipt(&normalFacts, baselineResult.Receipts[i])
		}

		expFacts, err := d.runExperimentalPass(blockCtx, tx, msg, expDB)
		if err != nil {
			return nil, &ErrSkip{Block: block.NumberU64(), Cause: fmt.Errorf("tx %d experimental pass: %w", i, err)}
		}

		pairs = append(pairs, TxPair{
			TxIndex:    i,
			TxHash:     tx.Hash(),
			Normal:     normalFacts,
			Experiment: expFacts,
		})
	}

	return pairs, nil
}

func deriveStatus(result *core.ExecutionResult) facts.Status {
	if !result.Failed() {
		return facts.StatusSuccess
	}
	if errors.Is(result.Err, vm.ErrExecutionReverted) {
		return facts.StatusRevert
	}
	return facts.StatusHalt
}

func applyReceipt(tf *facts.TxFacts, r *types.Receipt) {
	tf.GasUsed = r.GasUsed
	if r.Status == types.ReceiptStatusSuccessful {
		tf.Status = facts.StatusSuccess
	} else {
		tf.Status = facts.StatusRevert
	}
}

func (d *Driver) runNormalPass(blockCtx vm.BlockContext, msg *core.Message, statedb *state.StateDB) (facts.TxFacts, error) {
	tracker := tracerhooks.NewTracking(statedb, d.fingerprintIncludesTransient)
	txCtx := core.NewEVMTxContext(msg)
	evm := d.evm.Build(blockCtx, txCtx, statedb, d.chain, tracker.Hooks())

	result, err := core.ApplyMessage(evm, msg, new(core.GasPool).AddGas(msg.GasLimit))
	if err != nil {
		return facts.TxFacts{}, err
	}
	tracker.SetResult(deriveStatus(result), result.UsedGas)
	statedb.Finalise(true)
	return tracker.Facts(), nil
}

func (d *Driver) runExperimentalPass(blockCtx vm.BlockContext, tx *types.Transaction, msg *core.Message, statedb *state.StateDB) (facts.TxFacts, error) {
	expInspector := tracerhooks.NewExperimental(statedb, d.policy, d.fingerprintIncludesTransient)
	hooks := expInspector.Hooks()
	txCtx := core.NewEVMTxContext(msg)
	evm := d.evm.Build(blockCtx, txCtx, statedb, d.chain, hooks)

	// core.ApplyMessage does not fire OnTxStart, so it is called here to
	// set the inspector's inflated per-transaction budget.
	hooks.OnTxStart(nil, tx, msg.From)

	inflatedMsg := *msg
	inflatedMsg.GasLimit = d.policy.InflateGasLimit(msg.GasLimit)

	result, err := core.ApplyMessage(evm, &inflatedMsg, new(core.GasPool).AddGas(inflatedMsg.GasLimit))
	if err != nil {
		return facts.TxFacts{}, err
	}
	expInspector.SetResult(deriveStatus(result), result.UsedGas)
	statedb.Finalise(true)
	return expInspector.Facts(), nil
}
