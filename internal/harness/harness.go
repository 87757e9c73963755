// Package harness provides in-memory fakes of the pipeline's collaborator
// interfaces (StateSource, EvmFactory, BlockNotifier) and fixtures
// encoding scenarios S1-S5 from spec §8, for use by tests. The replay CLI
// does not use them; it reads blocks and state through internal/ethsource.
package harness

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/carlbeek/gas-repricer/internal/replay"
)

// FakeStateSource hands out fresh empty-trie StateDB overlays, seeded via
// Seed, for every SnapshotAt call. Each call returns an independent
// overlay copied from the seed so normal/experimental passes never share
// mutable state (spec §5: "the two EVM overlays ... are never shared").
type FakeStateSource struct {
	db   state.Database
	seed func(*state.StateDB)
}

// NewFakeStateSource constructs a FakeStateSource backed by an in-memory
// trie database. seed, if non-nil, is applied to every fresh StateDB
// before it is handed out.
func NewFakeStateSource(seed func(*state.StateDB)) *FakeStateSource {
	return &FakeStateSource{
		db:   state.NewDatabase(rawdb.NewMemoryDatabase()),
		seed: seed,
	}
}

// SnapshotAt implements replay.StateSource.
func (f *FakeStateSource) SnapshotAt(ctx context.Context, blockNumber uint64) (*state.StateDB, error) {
	statedb, err := state.New(types.EmptyRootHash, f.db, nil)
	if err != nil {
		return nil, err
	}
	if f.seed != nil {
		f.seed(statedb)
	}
	return statedb, nil
}

var _ replay.StateSource = (*FakeStateSource)(nil)

// FakeNotifier is an in-memory replay.BlockNotifier a test or CLI driver
// can push notifications into directly.
type FakeNotifier struct {
	ch chan replay.Notification
}

// NewFakeNotifier constructs a FakeNotifier with the given channel
// capacity.
func NewFakeNotifier(capacity int) *FakeNotifier {
	return &FakeNotifier{ch: make(chan replay.Notification, capacity)}
}

// Notifications implements replay.BlockNotifier.
func (f *FakeNotifier) Notifications() <-chan replay.Notification {
	return f.ch
}

// EmitCommitted pushes a "chain committed" notification.
func (f *FakeNotifier) EmitCommitted(block *types.Block, result *replay.BlockExecutionResult) {
	f.ch <- replay.Notification{Kind: replay.KindCommitted, Block: block, Result: result}
}

// EmitReverted pushes a "chain reverted" notification for the range
// [from, to] (spec §4.7).
func (f *FakeNotifier) EmitReverted(from, to uint64) {
	f.ch <- replay.Notification{Kind: replay.KindReverted, RevertedFrom: from, RevertedTo: to}
}

// Close stops the notification stream.
func (f *FakeNotifier) Close() {
	close(f.ch)
}

var _ replay.BlockNotifier = (*FakeNotifier)(nil)

// NewBlock builds a minimal types.Block with the given number and
// transactions, suitable for driving FakeNotifier/Driver.Analyze in tests.
func NewBlock(number uint64, txs ...*types.Transaction) *types.Block {
	header := &types.Header{
		Number:   new(big.Int).SetUint64(number),
		GasLimit: 30_000_000,
		Time:     1_700_000_000 + number,
		BaseFee:  big.NewInt(1_000_000_000),
	}
	return types.NewBlockWithHeader(header).WithBody(txs, nil)
}

// SimpleTransfer builds a plain value-transfer legacy transaction to an
// EOA, matching scenario S1 (spec §8).
func SimpleTransfer(nonce uint64, to common.Address, value *big.Int) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      21000,
		GasPrice: big.NewInt(1_000_000_000),
	})
}
