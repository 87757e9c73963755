package tracerhooks

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"

	"github.com/carlbeek/gas-repricer/internal/facts"
)

func TestTouchedSetDeduplicatesAddressesAndSlots(t *testing.T) {
	ts := newTouchedSet()
	a1 := common.HexToAddress("0x01")
	a2 := common.HexToAddress("0x02")
	slot := common.HexToHash("0x0a")

	ts.touchAccount(a1)
	ts.touchAccount(a1)
	ts.touchSlot(a1, slot)
	ts.touchSlot(a1, slot)
	ts.touchAccount(a2)

	assert.Equal(t, []common.Address{a1, a2}, ts.addresses())
	assert.Equal(t, []common.Hash{slot}, ts.slotsFor(a1))
	assert.Empty(t, ts.slotsFor(a2))
}

func TestTouchedSetTouchSlotImpliesTouchAccount(t *testing.T) {
	ts := newTouchedSet()
	addr := common.HexToAddress("0x03")
	slot := common.HexToHash("0x01")

	ts.touchSlot(addr, slot)

	assert.Equal(t, []common.Address{addr}, ts.addresses())
}

func step(pc uint64, op vm.OpCode, depth int, memWords uint64) stepRecord {
	return stepRecord{pc: pc, op: op, depth: depth, memWords: memWords}
}

func TestClassifyOOGPatternEmptyWindow(t *testing.T) {
	assert.Equal(t, facts.PatternUnknown, classifyOOGPattern(nil, vm.SSTORE))
}

func TestClassifyOOGPatternLoop(t *testing.T) {
	window := []stepRecord{
		step(10, vm.JUMPDEST, 0, 0),
		step(10, vm.JUMPDEST, 0, 0),
		step(10, vm.JUMPDEST, 0, 0),
	}
	assert.Equal(t, facts.PatternLoop, classifyOOGPattern(window, vm.SSTORE))
}

func TestClassifyOOGPatternStorageHeavy(t *testing.T) {
	window := []stepRecord{
		step(1, vm.SLOAD, 0, 0),
		step(2, vm.SSTORE, 0, 0),
		step(3, vm.SLOAD, 0, 0),
		step(4, vm.ADD, 0, 0),
	}
	assert.Equal(t, facts.PatternStorageHeavy, classifyOOGPattern(window, vm.SLOAD))
}

func TestClassifyOOGPatternCallChain(t *testing.T) {
	window := []stepRecord{
		step(1, vm.CALL, 0, 0),
		step(2, vm.CALL, 1, 0),
		step(3, vm.CALL, 2, 0),
	}
	assert.Equal(t, facts.PatternCallChain, classifyOOGPattern(window, vm.CALL))
}

func TestClassifyOOGPatternMemoryExpansion(t *testing.T) {
	window := []stepRecord{
		step(1, vm.MSTORE, 0, 1),
		step(2, vm.MSTORE, 0, 2),
		step(3, vm.MSTORE, 0, 3),
	}
	assert.Equal(t, facts.PatternMemoryExpansion, classifyOOGPattern(window, vm.MSTORE))
}

func TestClassifyOOGPatternUnknownFallback(t *testing.T) {
	window := []stepRecord{
		step(1, vm.ADD, 0, 0),
		step(2, vm.MUL, 0, 0),
	}
	assert.Equal(t, facts.PatternUnknown, classifyOOGPattern(window, vm.ADD))
}

func TestIsLoopRequiresThreeVisitsOfSamePC(t *testing.T) {
	assert.False(t, isLoop([]stepRecord{step(1, vm.JUMPDEST, 0, 0), step(1, vm.JUMPDEST, 0, 0)}))
	assert.True(t, isLoop([]stepRecord{
		step(1, vm.JUMPDEST, 0, 0),
		step(1, vm.JUMPDEST, 0, 0),
		step(1, vm.JUMPDEST, 0, 0),
	}))
}

func TestIsCallChainRequiresTightDepthIncreases(t *testing.T) {
	tight := []stepRecord{
		step(1, vm.CALL, 0, 0),
		step(2, vm.CALL, 1, 0),
	}
	assert.True(t, isCallChain(tight))

	sparse := []stepRecord{
		step(1, vm.CALL, 0, 0),
		step(2, vm.ADD, 0, 0),
		step(3, vm.ADD, 0, 0),
		step(4, vm.ADD, 0, 0),
		step(5, vm.ADD, 0, 0),
		step(6, vm.ADD, 0, 0),
		step(7, vm.CALL, 1, 0),
	}
	assert.False(t, isCallChain(sparse))
}

func TestMemoryGrowsMonotonically(t *testing.T) {
	assert.True(t, memoryGrowsMonotonically([]stepRecord{
		step(1, vm.MSTORE, 0, 1),
		step(2, vm.MSTORE, 0, 2),
	}))
	assert.False(t, memoryGrowsMonotonically([]stepRecord{
		step(1, vm.MSTORE, 0, 2),
		step(2, vm.MSTORE, 0, 1),
	}))
}
