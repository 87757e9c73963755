// Package replay implements the state-isolated replay driver (spec §4.4):
// for each committed block it obtains a read-only snapshot of pre-block
// state, builds an isolated overlay, and executes the block's
// transactions under both the baseline and experimental inspectors.
package replay

import (
	"context"

	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
)

// StateSource is the collaborator interface consumed from the host
// (spec §6): a read-only, cheaply cloneable snapshot source.
type StateSource interface {
	// SnapshotAt returns a *state.StateDB positioned at the state as of
	// blockNumber-1. Implementations must support concurrent calls.
	SnapshotAt(ctx context.Context, blockNumber uint64) (*state.StateDB, error)
}

// EvmFactory is the collaborator interface that builds a pluggable EVM
// bound to an inspector's tracing.Hooks and a statedb overlay (spec §6).
// The default implementation (DefaultEvmFactory) simply calls
// vm.NewEVM; a host or test harness may substitute its own to exercise a
// custom gas-metering policy hook.
type EvmFactory interface {
	Build(blockCtx vm.BlockContext, txCtx vm.TxContext, statedb *state.StateDB, chainConfig *params.ChainConfig, hooks *tracing.Hooks) *vm.EVM
}

// DefaultEvmFactory builds a standard go-ethereum EVM.
type DefaultEvmFactory struct{}

// Build implements EvmFactory.
func (DefaultEvmFactory) Build(blockCtx vm.BlockContext, txCtx vm.TxContext, statedb *state.StateDB, chainConfig *params.ChainConfig, hooks *tracing.Hooks) *vm.EVM {
	cfg := vm.Config{Tracer: hooks}
	return vm.NewEVM(blockCtx, txCtx, statedb, chainConfig, cfg)
}

// NotificationKind distinguishes a committed block from a reorg discard.
type NotificationKind int

const (
	KindCommitted NotificationKind = iota
	KindReverted
)

// BlockExecutionResult is the host's own execution result for a block, if
// it has one available (spec §6). The driver uses its receipts to avoid
// re-deriving transaction status/gas accounting from scratch, but still
// runs a TrackingInspector-only pass because the host does not ship
// inspector output with its result (spec §4.4 step 4).
type BlockExecutionResult struct {
	Receipts []*types.Receipt
}

// Notification is one element of the BlockNotifier stream (spec §6).
type Notification struct {
	Kind   NotificationKind
	Block  *types.Block
	Result *BlockExecutionResult

	// RevertedFrom/RevertedTo bound the orphaned range for KindReverted
	// notifications (spec §4.7 reorg handling).
	RevertedFrom uint64
	RevertedTo   uint64
}

// BlockNotifier is the async stream of committed/reverted blocks the
// Pipeline Coordinator subscribes to (spec §6).
type BlockNotifier interface {
	Notifications() <-chan Notification
}
