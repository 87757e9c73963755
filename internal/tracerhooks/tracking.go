// Package tracerhooks implements the baseline and experimental pass
// instrumentation (spec §4.2, §4.3) on top of go-ethereum's live-tracing
// hook set (core/tracing.Hooks), generalizing the opcode/call/memory
// tracking idiom of the teacher's gas_tracer.go to the fixed TxFacts shape
// defined in internal/facts.
package tracerhooks

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/carlbeek/gas-repricer/internal/facts"
)

// openFrame tracks a CallFrame whose success field is still pending exit.
type openFrame struct {
	idx int // index into Tracking.calls
}

// Tracking is the baseline-pass instrumentation: it counts operations,
// records call frames and logs without altering execution semantics. It
// is side-effect-free against the EVM — every hook only reads from the
// scope it is handed.
type Tracking struct {
	state            StateReader
	includeTransient bool

	ops     facts.OperationCounts
	calls   []facts.CallFrame
	logs    []facts.EventLog
	steps   []facts.OpStep
	touched *touchedSet

	frameStack []openFrame
	depth      int

	gasUsed uint64
	status  facts.Status
	txErr   error
}

// NewTracking constructs a Tracking inspector bound to the StateDB that
// will be queried at transaction end for fingerprinting. includeTransient
// controls whether TLOAD/TSTORE-touched transient slots are folded into
// the fingerprint (spec §9 Open Question #2, config.FingerprintIncludesTransient).
func NewTracking(state StateReader, includeTransient bool) *Tracking {
	return &Tracking{
		state:            state,
		includeTransient: includeTransient,
		touched:          newTouchedSet(),
	}
}

// Hooks returns the core/tracing.Hooks struct wiring this inspector into
// an EVM, the shared capability set described in spec §9: on_step,
// on_call_enter, on_call_exit, on_log, on_tx_end.
func (t *Tracking) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnTxStart: t.onTxStart,
		OnTxEnd:   t.onTxEnd,
		OnEnter:   t.onEnter,
		OnExit:    t.onExit,
		OnOpcode:  t.OnOpcode,
		OnLog:     t.onLog,
	}
}

func (t *Tracking) onTxStart(vmCtx *tracing.VMContext, tx *types.Transaction, from common.Address) {
	t.depth = 0
}

func callTypeFor(typ byte) (facts.CallType, bool) {
	switch vm.OpCode(typ) {
	case vm.CALL, vm.CALLCODE:
		return facts.CallTypeCall, true
	case vm.DELEGATECALL:
		return facts.CallTypeDelegateCall, true
	case vm.STATICCALL:
		return facts.CallTypeStaticCall, true
	case vm.CREATE:
		return facts.CallTypeCreate, true
	case vm.CREATE2:
		return facts.CallTypeCreate2, true
	default:
		return 0, false
	}
}

func (t *Tracking) onEnter(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	ct, ok := callTypeFor(typ)
	if !ok {
		return
	}
	callInput := make([]byte, len(input))
	copy(callInput, input)
	frame := facts.CallFrame{
		From:        from,
		To:          to,
		CallType:    ct,
		Depth:       depth,
		GasProvided: gas,
		Success:     true,
		Input:       callInput,
	}
	t.calls = append(t.calls, frame)
	t.frameStack = append(t.frameStack, openFrame{idx: len(t.calls) - 1})
	t.touched.touchAccount(from)
	t.touched.touchAccount(to)
}

func (t *Tracking) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if len(t.frameStack) == 0 {
		return
	}
	top := t.frameStack[len(t.frameStack)-1]
	t.frameStack = t.frameStack[:len(t.frameStack)-1]
	t.calls[top.idx].Success = !reverted && err == nil
}

// OnOpcode is exported so ExperimentalInspector can call through to it
// before layering its own shadow gas accounting on top.
func (t *Tracking) OnOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	opcode := vm.OpCode(op)

	t.ops.IncTotal()
	if cat, ok := facts.CategoryForOp(opcode); ok {
		t.ops.Inc(cat)
	}

	if mem := scope.MemoryData(); len(mem) > 0 {
		words := uint64(len(mem)+31) / 32
		if words > t.ops.PeakMemoryWords {
			t.ops.PeakMemoryWords = words
		}
	}

	switch opcode {
	case vm.SLOAD, vm.SSTORE:
		stack := scope.StackData()
		if len(stack) > 0 {
			slot := common.Hash(stack[len(stack)-1].Bytes32())
			t.touched.touchSlot(scope.Address(), slot)
		}
	case vm.TLOAD, vm.TSTORE:
		if t.includeTransient {
			stack := scope.StackData()
			if len(stack) > 0 {
				slot := common.Hash(stack[len(stack)-1].Bytes32())
				t.touched.touchTransientSlot(scope.Address(), slot)
			}
		}
	}

	t.steps = append(t.steps, facts.OpStep{
		PC:       pc,
		Op:       opcode,
		Depth:    depth,
		Contract: scope.Address(),
	})
}

func (t *Tracking) onLog(l *types.Log) {
	topics := make([]common.Hash, len(l.Topics))
	copy(topics, l.Topics)
	data := make([]byte, len(l.Data))
	copy(data, l.Data)
	t.logs = append(t.logs, facts.EventLog{
		Address: l.Address,
		Topics:  topics,
		Data:    data,
	})
	t.touched.touchAccount(l.Address)
}

func (t *Tracking) onTxEnd(receipt *types.Receipt, err error) {
	t.txErr = err
	if receipt != nil {
		t.gasUsed = receipt.GasUsed
		if receipt.Status == types.ReceiptStatusSuccessful {
			t.status = facts.StatusSuccess
		} else {
			t.status = facts.StatusRevert
		}
	} else if err != nil {
		t.status = facts.StatusHalt
	}
}

// SetResult allows a caller that already knows the final status/gas used
// (e.g. from the host's own execution result, spec §4.4 step 4) to set
// them directly instead of relying on onTxEnd's receipt.
func (t *Tracking) SetResult(status facts.Status, gasUsed uint64) {
	t.status = status
	t.gasUsed = gasUsed
}

// Facts resolves the accumulated observations, plus a fingerprint query
// against the bound StateDB, into a facts.TxFacts value. Must be called
// once, after the transaction has finished executing.
func (t *Tracking) Facts() facts.TxFacts {
	touches := make([]facts.AccountTouch, 0, len(t.touched.addresses()))
	for _, addr := range t.touched.addresses() {
		touch := facts.AccountTouch{
			Address: addr,
			Slots:   make(map[common.Hash]common.Hash),
		}
		if t.state != nil {
			if bal := t.state.GetBalance(addr); bal != nil {
				touch.Balance = bal.Bytes32()
			}
			touch.Nonce = t.state.GetNonce(addr)
			touch.CodeHash = t.state.GetCodeHash(addr)
			for _, slot := range t.touched.slotsFor(addr) {
				touch.Slots[slot] = t.state.GetState(addr, slot)
			}
			if t.includeTransient {
				if transient := t.touched.transientSlotsFor(addr); len(transient) > 0 {
					touch.TransientSlots = make(map[common.Hash]common.Hash, len(transient))
					for _, slot := range transient {
						touch.TransientSlots[slot] = t.state.GetTransientState(addr, slot)
					}
				}
			}
		}
		touches = append(touches, touch)
	}

	return facts.TxFacts{
		Status:          t.status,
		GasUsed:         t.gasUsed,
		Ops:             t.ops,
		Calls:           t.calls,
		Logs:            t.logs,
		Steps:           t.steps,
		TouchedAccounts: touches,
	}
}
