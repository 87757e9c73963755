package tracerhooks

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/carlbeek/gas-repricer/internal/facts"
	"github.com/carlbeek/gas-repricer/internal/gaspolicy"
)

// oogWindow is the number of most-recent steps inspected by the OOG
// pattern heuristics (spec §4.3.1, N=64).
const oogWindow = 64

type stepRecord struct {
	pc       uint64
	op       vm.OpCode
	contract common.Address
	depth    int
	memWords uint64
}

// Experimental is the experimental-pass instrumentation. It extends
// Tracking's counters with a shadow gas ledger synthesized on top of each
// opcode step under the configured gaspolicy.Policy, and detects
// out-of-gas conditions against the inflated per-transaction budget while
// leaving the real EVM's gas mechanics untouched so the pass always
// completes (spec §4.3).
type Experimental struct {
	*Tracking

	policy gaspolicy.Policy

	expGasLimit uint64
	expGasUsed  uint64

	oogTriggered bool
	oog          *facts.OutOfGasInfo

	window []stepRecord
}

// NewExperimental constructs an Experimental inspector. The inflated
// budget is derived from the transaction's unmodified gas limit via
// policy.InflateGasLimit when the OnTxStart hook runs. includeTransient is
// forwarded to the embedded Tracking inspector (spec §9 Open Question #2).
func NewExperimental(state StateReader, policy gaspolicy.Policy, includeTransient bool) *Experimental {
	return &Experimental{
		Tracking: NewTracking(state, includeTransient),
		policy:   policy,
	}
}

// Hooks returns the tracing.Hooks struct for this inspector, overriding
// OnOpcode and OnTxStart while delegating everything else to Tracking.
func (e *Experimental) Hooks() *tracing.Hooks {
	h := e.Tracking.Hooks()
	h.OnTxStart = e.onTxStart
	h.OnOpcode = e.OnOpcode
	return h
}

func (e *Experimental) onTxStart(vmCtx *tracing.VMContext, tx *types.Transaction, from common.Address) {
	e.Tracking.onTxStart(vmCtx, tx, from)
	e.expGasLimit = e.policy.InflateGasLimit(tx.Gas())
	e.expGasUsed = 0
	e.oogTriggered = false
	e.oog = nil
	e.window = e.window[:0]
}

// OnOpcode layers the shadow gas ledger on top of Tracking's counting.
func (e *Experimental) OnOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	e.Tracking.OnOpcode(pc, op, gas, cost, scope, rData, depth, err)

	opcode := vm.OpCode(op)

	literal, isLiteral := callForwardedGasLiteral(opcode, scope)
	effective := e.policy.Apply(cost, literal, isLiteral)
	e.expGasUsed += effective

	e.pushWindow(stepRecord{
		pc:       pc,
		op:       opcode,
		contract: scope.Address(),
		depth:    depth,
		memWords: uint64(len(scope.MemoryData())+31) / 32,
	})

	if !e.oogTriggered && e.expGasUsed > e.expGasLimit {
		e.oogTriggered = true
		pattern := classifyOOGPattern(e.window, opcode)
		remaining := int64(e.expGasLimit) - int64(e.expGasUsed)
		e.oog = &facts.OutOfGasInfo{
			Opcode:          opcode,
			PC:              pc,
			Contract:        scope.Address(),
			CallDepth:       depth,
			GasRemainingExp: remaining,
			Pattern:         pattern,
		}
	}
}

// callForwardedGasLiteral returns a CALL-family opcode's stack-provided gas
// argument, and true when the opcode is CALL-family and that argument fits
// in a uint64. It does not consult the exemption set: Policy.Apply decides
// whether the value is an exempt literal (canonically the 2300 stipend).
func callForwardedGasLiteral(op vm.OpCode, scope tracing.OpContext) (uint64, bool) {
	switch op {
	case vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL:
	default:
		return 0, false
	}
	stack := scope.StackData()
	if len(stack) == 0 {
		return 0, false
	}
	gasArg := stack[len(stack)-1]
	if !gasArg.IsUint64() {
		return 0, false
	}
	return gasArg.Uint64(), true
}

func (e *Experimental) pushWindow(s stepRecord) {
	e.window = append(e.window, s)
	if len(e.window) > oogWindow {
		e.window = e.window[len(e.window)-oogWindow:]
	}
}

func classifyOOGPattern(window []stepRecord, terminating vm.OpCode) facts.OOGPattern {
	if len(window) == 0 {
		return facts.PatternUnknown
	}
	if isMemoryOp(terminating) && memoryGrowsMonotonically(window) {
		return facts.PatternMemoryExpansion
	}
	if isStorageHeavy(window) {
		return facts.PatternStorageHeavy
	}
	if isCallChain(window) {
		return facts.PatternCallChain
	}
	if isLoop(window) {
		return facts.PatternLoop
	}
	return facts.PatternUnknown
}

func isMemoryOp(op vm.OpCode) bool {
	switch op {
	case vm.MLOAD, vm.MSTORE, vm.RETURNDATACOPY, vm.CALLDATACOPY, vm.CODECOPY:
		return true
	default:
		return false
	}
}

func memoryGrowsMonotonically(window []stepRecord) bool {
	for i := 1; i < len(window); i++ {
		if window[i].memWords < window[i-1].memWords {
			return false
		}
	}
	return true
}

func isStorageHeavy(window []stepRecord) bool {
	count := 0
	for _, s := range window {
		if s.op == vm.SLOAD || s.op == vm.SSTORE {
			count++
		}
	}
	return float64(count) > 0.5*float64(len(window))
}

func isCallChain(window []stepRecord) bool {
	lastDepth := window[0].depth
	lastIncreaseIdx := 0
	increased := false
	for i := 1; i < len(window); i++ {
		if window[i].depth > lastDepth {
			if i-lastIncreaseIdx > 4 {
				return false
			}
			lastIncreaseIdx = i
			lastDepth = window[i].depth
			increased = true
		}
	}
	return increased
}

func isLoop(window []stepRecord) bool {
	type key struct {
		pc       uint64
		contract common.Address
	}
	seen := make(map[key]int, len(window))
	for _, s := range window {
		k := key{pc: s.pc, contract: s.contract}
		seen[k]++
		if seen[k] >= 3 {
			return true
		}
	}
	return false
}

// Facts resolves the experimental pass's observations the same way
// Tracking.Facts does, additionally carrying gas_used from the shadow
// ledger and the OOG info (if triggered) per spec §4.3: "emits TxFacts
// with gas_used = exp_gas_used, status = OOG if triggered else the
// EVM-reported status."
func (e *Experimental) Facts() facts.TxFacts {
	tf := e.Tracking.Facts()
	tf.GasUsed = e.expGasUsed
	if e.oogTriggered {
		tf.Status = facts.StatusOutOfGas
	}
	tf.OOG = e.oog
	return tf
}
