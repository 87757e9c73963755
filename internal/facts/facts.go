// Package facts defines the per-transaction observation types produced by
// both inspectors (spec §3): OperationCounts, CallFrame, EventLog,
// OutOfGasInfo and the aggregate TxFacts, plus the canonical state
// fingerprint digest.
package facts

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
)

// Status is the terminal outcome of a traced execution.
type Status int

const (
	StatusSuccess Status = iota
	StatusRevert
	StatusHalt
	StatusOutOfGas
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRevert:
		return "revert"
	case StatusHalt:
		return "halt"
	case StatusOutOfGas:
		return "oog"
	default:
		return "unknown"
	}
}

// OpCategory is one of the fixed accounting buckets in spec §3.
type OpCategory int

const (
	CatSLOAD OpCategory = iota
	CatSSTORE
	CatCALL
	CatDELEGATECALL
	CatSTATICCALL
	CatCREATE
	CatCREATE2
	CatLOG0
	CatLOG1
	CatLOG2
	CatLOG3
	CatLOG4
	CatTOTAL
	catCount
)

var categoryNames = [catCount]string{
	CatSLOAD:        "SLOAD",
	CatSSTORE:       "SSTORE",
	CatCALL:         "CALL",
	CatDELEGATECALL: "DELEGATECALL",
	CatSTATICCALL:   "STATICCALL",
	CatCREATE:       "CREATE",
	CatCREATE2:      "CREATE2",
	CatLOG0:         "LOG0",
	CatLOG1:         "LOG1",
	CatLOG2:         "LOG2",
	CatLOG3:         "LOG3",
	CatLOG4:         "LOG4",
	CatTOTAL:        "TOTAL",
}

func (c OpCategory) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "UNKNOWN"
	}
	return categoryNames[c]
}

// CategoryForOp maps an EVM opcode to its accounting category, if any.
func CategoryForOp(op vm.OpCode) (OpCategory, bool) {
	switch op {
	case vm.SLOAD:
		return CatSLOAD, true
	case vm.SSTORE:
		return CatSSTORE, true
	case vm.CALL, vm.CALLCODE:
		return CatCALL, true
	case vm.DELEGATECALL:
		return CatDELEGATECALL, true
	case vm.STATICCALL:
		return CatSTATICCALL, true
	case vm.CREATE:
		return CatCREATE, true
	case vm.CREATE2:
		return CatCREATE2, true
	case vm.LOG0:
		return CatLOG0, true
	case vm.LOG1:
		return CatLOG1, true
	case vm.LOG2:
		return CatLOG2, true
	case vm.LOG3:
		return CatLOG3, true
	case vm.LOG4:
		return CatLOG4, true
	default:
		return 0, false
	}
}

// OperationCounts is a fixed-category count of opcodes observed during a
// transaction, plus peak memory usage in 32-byte words.
type OperationCounts struct {
	counts          [catCount]uint64
	PeakMemoryWords uint64
}

// Inc increments the count for a category without touching TOTAL; callers
// pair it with IncTotal for every opcode stepped, categorized or not,
// since TOTAL counts every executed instruction, not just the categorized
// subset.
func (oc *OperationCounts) Inc(cat OpCategory) {
	oc.counts[cat]++
}

// IncTotal increments TOTAL, meant to be called once per executed opcode
// regardless of whether it falls into one of the named categories.
func (oc *OperationCounts) IncTotal() {
	oc.counts[CatTOTAL]++
}

// Get returns the count for a category.
func (oc OperationCounts) Get(cat OpCategory) uint64 {
	return oc.counts[cat]
}

// Categories enumerates every fixed category except TOTAL, in stable order.
func Categories() []OpCategory {
	cats := make([]OpCategory, 0, catCount-1)
	for c := OpCategory(0); c < CatTOTAL; c++ {
		cats = append(cats, c)
	}
	return cats
}

// CallType enumerates the call-family opcodes that produce a CallFrame.
type CallType int

const (
	CallTypeCall CallType = iota
	CallTypeDelegateCall
	CallTypeStaticCall
	CallTypeCreate
	CallTypeCreate2
)

func (c CallType) String() string {
	switch c {
	case CallTypeCall:
		return "CALL"
	case CallTypeDelegateCall:
		return "DELEGATECALL"
	case CallTypeStaticCall:
		return "STATICCALL"
	case CallTypeCreate:
		return "CREATE"
	case CallTypeCreate2:
		return "CREATE2"
	default:
		return "UNKNOWN"
	}
}

// CallFrame records one call-entry event, in call-entry order.
type CallFrame struct {
	From        common.Address
	To          common.Address
	CallType    CallType
	Depth       int
	GasProvided uint64
	Success     bool
	Input       []byte
}

// Selector returns the first 4 bytes of the call's input data (the function
// selector), or the zero selector when the call carried fewer than 4 bytes
// of calldata (e.g. a plain value transfer).
func (c CallFrame) Selector() [4]byte {
	var sel [4]byte
	if len(c.Input) >= 4 {
		copy(sel[:], c.Input[:4])
	}
	return sel
}

// EventLog records one LOG opcode's emitted event.
type EventLog struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// OOGPattern classifies the recent-step window at the moment the
// experimental pass's shadow ledger exceeded its inflated budget.
type OOGPattern int

const (
	PatternUnknown OOGPattern = iota
	PatternLoop
	PatternMemoryExpansion
	PatternCallChain
	PatternStorageHeavy
)

func (p OOGPattern) String() string {
	switch p {
	case PatternLoop:
		return "LOOP"
	case PatternMemoryExpansion:
		return "MEMORY_EXPANSION"
	case PatternCallChain:
		return "CALL_CHAIN"
	case PatternStorageHeavy:
		return "STORAGE_HEAVY"
	default:
		return "UNKNOWN"
	}
}

// OutOfGasInfo is produced only by the experimental pass.
type OutOfGasInfo struct {
	Opcode          vm.OpCode
	PC              uint64
	Contract        common.Address
	CallDepth       int
	GasRemainingExp int64
	Pattern         OOGPattern
}

// OpStep is one executed instruction, retained only for the lifetime of a
// single transaction/block (spec §3 lifecycle) so the classifier can find
// the first index where two traces diverge.
type OpStep struct {
	PC       uint64
	Op       vm.OpCode
	Depth    int
	Contract common.Address
}

// TxFacts is the per-transaction fact set produced independently by each
// inspector.
type TxFacts struct {
	Status  Status
	GasUsed uint64
	Ops     OperationCounts
	Calls   []CallFrame
	Logs    []EventLog
	OOG     *OutOfGasInfo
	Steps   []OpStep

	// fingerprint inputs, consumed by Fingerprint() below and kept
	// separate from the digest so tests can inspect raw touched state.
	TouchedAccounts []AccountTouch
}

// AccountTouch is one (address, balance, nonce, code_hash, slot->value)
// tuple observed during a transaction, prior to canonicalization.
// TransientSlots is populated only when the fingerprint is configured to
// include transient storage (spec §9 Open Question #2); it is left nil
// otherwise so the digest is unaffected either way.
type AccountTouch struct {
	Address        common.Address
	Balance        [32]byte
	Nonce          uint64
	CodeHash       common.Hash
	Slots          map[common.Hash]common.Hash
	TransientSlots map[common.Hash]common.Hash
}

// Fingerprint computes the 256-bit canonical digest described in spec §3:
// the hash of the set of touched (address, balance, nonce, code_hash,
// (slot -> value)) tuples, in a canonical (sorted) order so that iteration
// order over the underlying journal never affects the result.
func (tf TxFacts) Fingerprint() common.Hash {
	touches := make([]AccountTouch, len(tf.TouchedAccounts))
	copy(touches, tf.TouchedAccounts)
	sort.Slice(touches, func(i, j int) bool {
		return touches[i].Address.Hex() < touches[j].Address.Hex()
	})

	var buf []byte
	for _, t := range touches {
		buf = append(buf, t.Address.Bytes()...)
		buf = append(buf, t.Balance[:]...)
		buf = append(buf, uint64ToBytes(t.Nonce)...)
		buf = append(buf, t.CodeHash.Bytes()...)

		slotKeys := make([]common.Hash, 0, len(t.Slots))
		for k := range t.Slots {
			slotKeys = append(slotKeys, k)
		}
		sort.Slice(slotKeys, func(i, j int) bool {
			return slotKeys[i].Hex() < slotKeys[j].Hex()
		})
		for _, k := range slotKeys {
			buf = append(buf, k.Bytes()...)
			v := t.Slots[k]
			buf = append(buf, v.Bytes()...)
		}

		if len(t.TransientSlots) > 0 {
			transientKeys := make([]common.Hash, 0, len(t.TransientSlots))
			for k := range t.TransientSlots {
				transientKeys = append(transientKeys, k)
			}
			sort.Slice(transientKeys, func(i, j int) bool {
				return transientKeys[i].Hex() < transientKeys[j].Hex()
			})
			buf = append(buf, 't')
			for _, k := range transientKeys {
				buf = append(buf, k.Bytes()...)
				v := t.TransientSlots[k]
				buf = append(buf, v.Bytes()...)
			}
		}
	}

	return crypto.Keccak256Hash(buf)
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
