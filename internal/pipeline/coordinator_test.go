package pipeline

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"github.com/carlbeek/gas-repricer/internal/classifier"
	"github.com/carlbeek/gas-repricer/internal/gaspolicy"
	"github.com/carlbeek/gas-repricer/internal/harness"
	"github.com/carlbeek/gas-repricer/internal/replay"
	"github.com/carlbeek/gas-repricer/internal/store"
)

type fakeSink struct {
	mu        sync.Mutex
	submitted []*classifier.Divergence
	loops     []*classifier.GasLoopCandidate
}

func newFakeSink() *fakeSink { return &fakeSink{} }

func (f *fakeSink) Submit(d *classifier.Divergence) store.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, d)
	return store.Accepted
}

func (f *fakeSink) UpsertGasLoop(c *classifier.GasLoopCandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loops = append(f.loops, c)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

// noopHeaders satisfies replay.HeaderSource without resolving any ancestor
// header; sufficient for blocks whose execution never issues BLOCKHASH.
type noopHeaders struct{}

func (noopHeaders) GetHeader(hash common.Hash, number uint64) *types.Header { return nil }

func TestCoordinatorGatesBlocksBelowStartBlock(t *testing.T) {
	src := harness.NewFakeStateSource(nil)
	driver := replay.NewDriver(src, noopHeaders{}, nil, params.TestChainConfig, gaspolicy.New(128), false)
	sink := newFakeSink()
	cls := classifier.New(128)
	notifier := harness.NewFakeNotifier(4)

	co := New(notifier, driver, cls, sink, WithStartBlock(100))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		co.Run(ctx)
		close(done)
	}()

	block := harness.NewBlock(5, harness.SimpleTransfer(0, common.HexToAddress("0x09"), big.NewInt(1)))
	notifier.EmitCommitted(block, nil)

	require.Eventually(t, func() bool {
		s, ok := co.BlockState(5)
		return ok && s == StateSkipped
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestCoordinatorReorgAbandonsInFlight(t *testing.T) {
	co := New(harness.NewFakeNotifier(1), nil, nil, newFakeSink())

	cancelled := false
	co.mu.Lock()
	co.inFlight[10] = func() { cancelled = true }
	co.mu.Unlock()

	co.handleReorg(10, 10)

	require.True(t, cancelled)
	state, ok := co.BlockState(10)
	require.True(t, ok)
	require.Equal(t, StateFailed, state)
}

func TestCoordinatorReorgIgnoresBlocksOutsideRange(t *testing.T) {
	co := New(harness.NewFakeNotifier(1), nil, nil, newFakeSink())

	cancelled := false
	co.mu.Lock()
	co.inFlight[20] = func() { cancelled = true }
	co.mu.Unlock()

	co.handleReorg(1, 5)

	require.False(t, cancelled)
	_, ok := co.BlockState(20)
	require.False(t, ok)
}
