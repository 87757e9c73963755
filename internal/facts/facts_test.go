package facts

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationCountsIncAndTotalAreIndependent(t *testing.T) {
	var oc OperationCounts
	oc.IncTotal()
	oc.IncTotal()
	oc.Inc(CatSLOAD)

	assert.EqualValues(t, 2, oc.Get(CatTOTAL))
	assert.EqualValues(t, 1, oc.Get(CatSLOAD))
}

func TestCategoryForOp(t *testing.T) {
	cases := []struct {
		op   vm.OpCode
		want OpCategory
	}{
		{vm.SLOAD, CatSLOAD},
		{vm.SSTORE, CatSSTORE},
		{vm.CALL, CatCALL},
		{vm.CALLCODE, CatCALL},
		{vm.DELEGATECALL, CatDELEGATECALL},
		{vm.STATICCALL, CatSTATICCALL},
		{vm.CREATE, CatCREATE},
		{vm.CREATE2, CatCREATE2},
		{vm.LOG0, CatLOG0},
		{vm.LOG4, CatLOG4},
	}
	for _, c := range cases {
		got, ok := CategoryForOp(c.op)
		require.True(t, ok)
		assert.Equal(t, c.want, got)
	}

	_, ok := CategoryForOp(vm.ADD)
	assert.False(t, ok)
}

func TestFingerprintIsOrderIndependent(t *testing.T) {
	a1 := common.HexToAddress("0x01")
	a2 := common.HexToAddress("0x02")

	tf1 := TxFacts{TouchedAccounts: []AccountTouch{
		{Address: a1, Nonce: 1},
		{Address: a2, Nonce: 2},
	}}
	tf2 := TxFacts{TouchedAccounts: []AccountTouch{
		{Address: a2, Nonce: 2},
		{Address: a1, Nonce: 1},
	}}

	assert.Equal(t, tf1.Fingerprint(), tf2.Fingerprint())
}

func TestFingerprintDiffersOnSlotValue(t *testing.T) {
	addr := common.HexToAddress("0x01")
	slot := common.HexToHash("0x01")

	tf1 := TxFacts{TouchedAccounts: []AccountTouch{
		{Address: addr, Slots: map[common.Hash]common.Hash{slot: common.HexToHash("0x01")}},
	}}
	tf2 := TxFacts{TouchedAccounts: []AccountTouch{
		{Address: addr, Slots: map[common.Hash]common.Hash{slot: common.HexToHash("0x02")}},
	}}

	assert.NotEqual(t, tf1.Fingerprint(), tf2.Fingerprint())
}

func TestFingerprintSlotOrderIndependent(t *testing.T) {
	addr := common.HexToAddress("0x01")
	slotA := common.HexToHash("0x01")
	slotB := common.HexToHash("0x02")

	tf1 := TxFacts{TouchedAccounts: []AccountTouch{
		{Address: addr, Slots: map[common.Hash]common.Hash{
			slotA: common.HexToHash("0xa"),
			slotB: common.HexToHash("0xb"),
		}},
	}}
	tf2 := TxFacts{TouchedAccounts: []AccountTouch{
		{Address: addr, Slots: map[common.Hash]common.Hash{
			slotB: common.HexToHash("0xb"),
			slotA: common.HexToHash("0xa"),
		}},
	}}

	assert.Equal(t, tf1.Fingerprint(), tf2.Fingerprint())
}

func TestOOGPatternString(t *testing.T) {
	assert.Equal(t, "LOOP", PatternLoop.String())
	assert.Equal(t, "MEMORY_EXPANSION", PatternMemoryExpansion.String())
	assert.Equal(t, "CALL_CHAIN", PatternCallChain.String())
	assert.Equal(t, "STORAGE_HEAVY", PatternStorageHeavy.String())
	assert.Equal(t, "UNKNOWN", PatternUnknown.String())
}
