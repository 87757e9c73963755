package harness

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/carlbeek/gas-repricer/internal/facts"
)

// ScenarioPair bundles the normal/experimental TxFacts spec §8's
// scenarios describe, built directly rather than through a live EVM,
// since the scenarios specify outcomes rather than bytecode.
type ScenarioPair struct {
	Name       string
	Normal     facts.TxFacts
	Experiment facts.TxFacts
}

// ScenarioS1 is "pure value transfer, no code": both passes succeed with
// identical ops and gas_efficiency_ratio = 1.0; no Divergence.
func ScenarioS1() ScenarioPair {
	ops := facts.OperationCounts{}
	base := facts.TxFacts{
		Status:  facts.StatusSuccess,
		GasUsed: 21000,
		Ops:     ops,
	}
	exp := base
	exp.GasUsed = 21000 * 128
	return ScenarioPair{Name: "S1", Normal: base, Experiment: exp}
}

// ScenarioS2 is the hardcoded 2300-stipend transfer whose fallback
// performs one SSTORE: normal succeeds, experimental OOGs at the SSTORE
// step with pattern STORAGE_HEAVY.
func ScenarioS2() ScenarioPair {
	contract := common.HexToAddress("0x2222222222222222222222222222222222222222")
	var normalOps facts.OperationCounts
	normalOps.IncTotal()
	normalOps.Inc(facts.CatSSTORE)

	var expOps facts.OperationCounts
	expOps.IncTotal()
	expOps.Inc(facts.CatSSTORE)

	normal := facts.TxFacts{
		Status:  facts.StatusSuccess,
		GasUsed: 22300,
		Ops:     normalOps,
		Steps: []facts.OpStep{
			{PC: 0, Op: vm.SSTORE, Depth: 1, Contract: contract},
		},
	}
	experiment := facts.TxFacts{
		Status:  facts.StatusOutOfGas,
		GasUsed: 2300,
		Ops:     expOps,
		OOG: &facts.OutOfGasInfo{
			Opcode:   vm.SSTORE,
			PC:       0,
			Contract: contract,
			Pattern:  facts.PatternStorageHeavy,
		},
		Steps: []facts.OpStep{
			{PC: 0, Op: vm.SSTORE, Depth: 1, Contract: contract},
		},
	}
	return ScenarioPair{Name: "S2", Normal: normal, Experiment: experiment}
}

// ScenarioS3 is the keccak256 busy-loop: both passes terminate normally
// but the experimental pass performs fewer iterations, producing
// GAS_PATTERN and STATE_ROOT divergence with gas_efficiency_ratio > 1.05.
func ScenarioS3() ScenarioPair {
	contract := common.HexToAddress("0x3333333333333333333333333333333333333333")

	var normalOps facts.OperationCounts
	for i := 0; i < 100; i++ {
		normalOps.IncTotal()
	}
	var expOps facts.OperationCounts
	for i := 0; i < 60; i++ {
		expOps.IncTotal()
	}

	normalSlots := map[common.Hash]common.Hash{common.HexToHash("0x1"): common.HexToHash("0x64")}
	expSlots := map[common.Hash]common.Hash{common.HexToHash("0x1"): common.HexToHash("0x3c")}

	normal := facts.TxFacts{
		Status:  facts.StatusSuccess,
		GasUsed: 500_000,
		Ops:     normalOps,
		TouchedAccounts: []facts.AccountTouch{
			{Address: contract, Slots: normalSlots},
		},
	}
	experiment := facts.TxFacts{
		Status:  facts.StatusSuccess,
		GasUsed: 500_000 * 128 * 125 / 100, // > 1.05x after /128 normalization
		Ops:     expOps,
		TouchedAccounts: []facts.AccountTouch{
			{Address: contract, Slots: expSlots},
		},
	}
	return ScenarioPair{Name: "S3", Normal: normal, Experiment: experiment}
}

// ScenarioS4 is the `call(gas, target, 0, ...)` scenario: the inner call
// OOGs experimentally because the gas argument is a runtime value (not an
// exempt literal), producing CALL_TREE and STATUS divergence.
func ScenarioS4() ScenarioPair {
	caller := common.HexToAddress("0x4444444444444444444444444444444444444444")
	target := common.HexToAddress("0x4444444444444444444444444444444444444445")

	normal := facts.TxFacts{
		Status:  facts.StatusSuccess,
		GasUsed: 50_000,
		Calls: []facts.CallFrame{
			{From: caller, To: target, CallType: facts.CallTypeCall, Depth: 1, GasProvided: 50_000, Success: true},
		},
	}
	experiment := facts.TxFacts{
		Status:  facts.StatusOutOfGas,
		GasUsed: 50_000 * 128,
		Calls: []facts.CallFrame{
			{From: caller, To: target, CallType: facts.CallTypeCall, Depth: 1, GasProvided: 50_000 * 128, Success: false},
		},
		OOG: &facts.OutOfGasInfo{
			Opcode:   vm.CALL,
			Contract: target,
			Pattern:  facts.PatternCallChain,
		},
	}
	return ScenarioPair{Name: "S4", Normal: normal, Experiment: experiment}
}

// ScenarioS5 is the reverting-contract-call scenario with matching
// statuses, empty logs, and matching fingerprints: op counts differ by
// less than 5%, so no Divergence should be emitted.
func ScenarioS5() ScenarioPair {
	var normalOps, expOps facts.OperationCounts
	for i := 0; i < 100; i++ {
		normalOps.IncTotal()
	}
	for i := 0; i < 102; i++ {
		expOps.IncTotal()
	}
	base := facts.TxFacts{
		Status:  facts.StatusRevert,
		GasUsed: 40_000,
	}
	normal := base
	normal.Ops = normalOps
	experiment := base
	experiment.GasUsed = 40_000 * 128
	experiment.Ops = expOps
	return ScenarioPair{Name: "S5", Normal: normal, Experiment: experiment}
}
