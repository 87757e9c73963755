// Package classifier implements the DivergenceClassifier (spec §4.5):
// comparing a paired (normal, experimental) TxFacts and emitting at most
// one Divergence record carrying the set of dimensions that differ.
package classifier

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"

	"github.com/carlbeek/gas-repricer/internal/facts"
)

// DivergenceType is one of the six orthogonal comparison dimensions (spec §3).
type DivergenceType string

const (
	TypeStatus     DivergenceType = "STATUS"
	TypeGasPattern DivergenceType = "GAS_PATTERN"
	TypeStateRoot  DivergenceType = "STATE_ROOT"
	TypeEventLogs  DivergenceType = "EVENT_LOGS"
	TypeCallTree   DivergenceType = "CALL_TREE"
	TypeOutOfGas   DivergenceType = "OUT_OF_GAS"
)

// gasPatternThreshold is the 5% structural-vs-noise threshold from spec §4.5.
const gasPatternThreshold = 0.05

// categoryMinAbsDelta is the minimum absolute delta required for a
// per-category gas-pattern trigger, per spec §4.5.
const categoryMinAbsDelta = 4

// GasAnalysis is the gas_analysis sub-record of a Divergence (spec §3).
type GasAnalysis struct {
	NormalGasUsed       uint64
	ExperimentalGasUsed uint64
	GasMultiplier       uint64
	GasEfficiencyRatio  float64
}

// Location pinpoints the first differing step (spec §4.5).
type Location struct {
	Contract         common.Address
	FunctionSelector [4]byte
	PC               uint64
	CallDepth        int
	Opcode           string
}

// CallTrees carries both call sequences when CALL_TREE fires.
type CallTrees struct {
	Normal       []facts.CallFrame
	Experimental []facts.CallFrame
}

// EventLogs carries both log sequences when EVENT_LOGS fires.
type EventLogs struct {
	Normal       []facts.EventLog
	Experimental []facts.EventLog
}

// Divergence is one classified behavioral difference for a single
// transaction (spec §3).
type Divergence struct {
	BlockNumber uint64
	TxIndex     int
	TxHash      common.Hash
	Timestamp   uint64

	Types []DivergenceType

	GasAnalysis GasAnalysis

	NormalOps       facts.OperationCounts
	ExperimentalOps facts.OperationCounts

	Location  *Location
	OOG       *facts.OutOfGasInfo
	CallTrees *CallTrees
	EventLogs *EventLogs
}

// TxMeta carries the transaction identity the classifier stamps onto any
// emitted Divergence; it has no bearing on the comparison itself.
type TxMeta struct {
	BlockNumber uint64
	TxIndex     int
	TxHash      common.Hash
	Timestamp   uint64
}

// GasLoopCandidate is emitted alongside a Divergence (but not as part of
// it) whenever the conservative "< 80% of normal TOTAL ops" gas-loop
// heuristic from spec §9 fires, for the advisory gas_loops table.
type GasLoopCandidate struct {
	Contract         common.Address
	FunctionSelector [4]byte
	Block            uint64
	ObservedRatio    float64
}

const gasLoopRatioThreshold = 0.8

// Classifier compares paired TxFacts and emits Divergence records. It owns
// a small LRU of recently-seen (contract, selector) gas-loop candidates so
// the same pair isn't re-logged to the advisory table on every block
// within a process lifetime.
type Classifier struct {
	gasMultiplier uint64
	seenGasLoops  *lru.Cache
}

// New constructs a Classifier. gasMultiplier is the configured
// GasPolicy.GasMultiplier, needed for gas_efficiency_ratio.
func New(gasMultiplier uint64) *Classifier {
	cache, _ := lru.New(4096)
	return &Classifier{gasMultiplier: gasMultiplier, seenGasLoops: cache}
}

// Classify implements spec §4.5. It returns (nil, nil, nil) when no
// dimension fires (spec: "If no dimension fires, no record is emitted").
func (c *Classifier) Classify(meta TxMeta, normal, experimental facts.TxFacts) (*Divergence, *GasLoopCandidate, error) {
	var types []DivergenceType

	if normal.Status != experimental.Status {
		types = append(types, TypeStatus)
	}

	if normal.Fingerprint() != experimental.Fingerprint() {
		types = append(types, TypeStateRoot)
	}

	logsDiffer := logsDiffer(normal.Logs, experimental.Logs)
	if logsDiffer {
		types = append(types, TypeEventLogs)
	}

	callsDiffer := callsDiffer(normal.Calls, experimental.Calls)
	if callsDiffer {
		types = append(types, TypeCallTree)
	}

	if experimental.OOG != nil && normal.Status == facts.StatusSuccess {
		types = append(types, TypeOutOfGas)
	}

	ratio := gasEfficiencyRatio(normal.GasUsed, experimental.GasUsed, c.gasMultiplier)
	gasPattern := gasPatternDiverges(ratio, normal.Ops, experimental.Ops)
	if gasPattern {
		types = append(types, TypeGasPattern)
	}

	var loopCandidate *GasLoopCandidate
	if cand := c.detectGasLoop(meta, normal, experimental); cand != nil {
		loopCandidate = cand
	}

	if len(types) == 0 {
		return nil, loopCandidate, nil
	}

	div := &Divergence{
		BlockNumber: meta.BlockNumber,
		TxIndex:     meta.TxIndex,
		TxHash:      meta.TxHash,
		Timestamp:   meta.Timestamp,
		Types:       types,
		GasAnalysis: GasAnalysis{
			NormalGasUsed:       normal.GasUsed,
			ExperimentalGasUsed: experimental.GasUsed,
			GasMultiplier:       c.gasMultiplier,
			GasEfficiencyRatio:  ratio,
		},
		NormalOps:       normal.Ops,
		ExperimentalOps: experimental.Ops,
		OOG:             experimental.OOG,
	}

	opSeqDiffers := firstDivergingStep(normal.Steps, experimental.Steps, normal.Calls, experimental.Calls)
	if opSeqDiffers != nil {
		div.Location = opSeqDiffers
	}

	if callsDiffer {
		div.CallTrees = &CallTrees{Normal: normal.Calls, Experimental: experimental.Calls}
	}
	if logsDiffer {
		div.EventLogs = &EventLogs{Normal: normal.Logs, Experimental: experimental.Logs}
	}

	return div, loopCandidate, nil
}

func gasEfficiencyRatio(normalGas, expGas, multiplier uint64) float64 {
	if normalGas == 0 {
		return 1.0
	}
	return (float64(expGas) / float64(multiplier)) / float64(normalGas)
}

func gasPatternDiverges(ratio float64, normal, experimental facts.OperationCounts) bool {
	if absf(ratio-1.0) > gasPatternThreshold {
		return true
	}
	if pctDiff(normal.Get(facts.CatTOTAL), experimental.Get(facts.CatTOTAL)) > gasPatternThreshold {
		return true
	}
	for _, cat := range facts.Categories() {
		n, e := normal.Get(cat), experimental.Get(cat)
		delta := absInt64(int64(n) - int64(e))
		if delta < categoryMinAbsDelta {
			continue
		}
		if pctDiff(n, e) > gasPatternThreshold {
			return true
		}
	}
	return false
}

func pctDiff(a, b uint64) float64 {
	if a == 0 && b == 0 {
		return 0
	}
	base := a
	if base == 0 {
		base = b
	}
	return absf(float64(int64(a)-int64(b)) / float64(base))
}

func logsDiffer(a, b []facts.EventLog) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i].Address != b[i].Address {
			return true
		}
		if len(a[i].Topics) != len(b[i].Topics) {
			return true
		}
		for j := range a[i].Topics {
			if a[i].Topics[j] != b[i].Topics[j] {
				return true
			}
		}
		if string(a[i].Data) != string(b[i].Data) {
			return true
		}
	}
	return false
}

func callsDiffer(a, b []facts.CallFrame) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i].From != b[i].From ||
			a[i].To != b[i].To ||
			a[i].CallType != b[i].CallType ||
			a[i].Depth != b[i].Depth ||
			a[i].Success != b[i].Success {
			return true
		}
	}
	return false
}

// firstDivergingStep returns the Location of the first index where the two
// op sequences differ by pc, opcode or contract (or, when one sequence is a
// prefix of the other, the first step past the shorter one), or nil when
// there is no op-sequence difference (spec §4.5: "if only STATE_ROOT and
// GAS_PATTERN fire without an op-sequence difference, location is
// omitted").
func firstDivergingStep(normal, experimental []facts.OpStep, normalCalls, experimentalCalls []facts.CallFrame) *Location {
	n := len(normal)
	if len(experimental) < n {
		n = len(experimental)
	}
	for i := 0; i < n; i++ {
		if normal[i].PC != experimental[i].PC || normal[i].Op != experimental[i].Op || normal[i].Contract != experimental[i].Contract {
			return &Location{
				Contract:         experimental[i].Contract,
				FunctionSelector: selectorAt(experimentalCalls, experimental[i].Contract, experimental[i].Depth),
				PC:               experimental[i].PC,
				CallDepth:        experimental[i].Depth,
				Opcode:           experimental[i].Op.String(),
			}
		}
	}
	if len(normal) != len(experimental) {
		idx := n
		seq := experimental
		calls := experimentalCalls
		if len(normal) > len(experimental) {
			seq = normal
			calls = normalCalls
		}
		if idx < len(seq) {
			return &Location{
				Contract:         seq[idx].Contract,
				FunctionSelector: selectorAt(calls, seq[idx].Contract, seq[idx].Depth),
				PC:               seq[idx].PC,
				CallDepth:        seq[idx].Depth,
				Opcode:           seq[idx].Op.String(),
			}
		}
	}
	return nil
}

// selectorAt finds the call frame entered at the given depth against the
// given contract and returns its function selector, so a diverging
// Location can report which function was executing (spec §3's
// location.function_selector). Returns the zero selector if no matching
// frame is found (e.g. the divergence is in the top-level call itself).
func selectorAt(calls []facts.CallFrame, contract common.Address, depth int) [4]byte {
	for _, c := range calls {
		if c.To == contract && c.Depth == depth {
			return c.Selector()
		}
	}
	return [4]byte{}
}

func (c *Classifier) detectGasLoop(meta TxMeta, normal, experimental facts.TxFacts) *GasLoopCandidate {
	normalTotal := normal.Ops.Get(facts.CatTOTAL)
	if normalTotal == 0 {
		return nil
	}
	if callsDiffer(normal.Calls, experimental.Calls) {
		return nil
	}
	ratio := float64(experimental.Ops.Get(facts.CatTOTAL)) / float64(normalTotal)
	if ratio >= gasLoopRatioThreshold {
		return nil
	}
	if len(normal.Calls) == 0 {
		return nil
	}
	contract := normal.Calls[0].To
	selector := normal.Calls[0].Selector()
	key := gasLoopKey{contract: contract, selector: selector}
	if c.seenGasLoops != nil {
		if _, ok := c.seenGasLoops.Get(key); ok {
			return nil
		}
		c.seenGasLoops.Add(key, struct{}{})
	}
	return &GasLoopCandidate{
		Contract:         contract,
		FunctionSelector: selector,
		Block:            meta.BlockNumber,
		ObservedRatio:    ratio,
	}
}

type gasLoopKey struct {
	contract common.Address
	selector [4]byte
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func absInt64(i int64) int64 {
	if i < 0 {
		return -i
	}
	return i
}

// SplitTypes decodes the JSON array a Record's Types column stores (per
// row.go's toRow) back into the plain DivergenceType name strings, for
// hosts that query the store directly rather than re-deriving Divergence
// values.
func SplitTypes(encoded string) []string {
	var names []string
	if err := json.Unmarshal([]byte(encoded), &names); err != nil {
		return nil
	}
	return names
}
