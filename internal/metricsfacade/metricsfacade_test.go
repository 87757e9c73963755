package metricsfacade

import (
	"testing"

	gethmetrics "github.com/ethereum/go-ethereum/metrics"
	"github.com/stretchr/testify/require"

	"github.com/carlbeek/gas-repricer/internal/classifier"
	"github.com/carlbeek/gas-repricer/internal/facts"
)

func TestRecordDivergenceIncrementsCounters(t *testing.T) {
	r := gethmetrics.NewRegistry()
	f := New(r)

	d := &classifier.Divergence{
		Types: []classifier.DivergenceType{classifier.TypeStatus, classifier.TypeOutOfGas},
		OOG:   &facts.OutOfGasInfo{Pattern: facts.PatternLoop},
	}
	f.RecordDivergence(d)

	require.EqualValues(t, 1, f.divergencesTotal.Snapshot().Count())
	require.EqualValues(t, 1, f.divergencesByType[classifier.TypeStatus].Snapshot().Count())
	require.EqualValues(t, 1, f.divergencesByType[classifier.TypeOutOfGas].Snapshot().Count())
	require.EqualValues(t, 0, f.divergencesByType[classifier.TypeGasPattern].Snapshot().Count())
	require.EqualValues(t, 1, f.oogByPattern[facts.PatternLoop].Snapshot().Count())
}

func TestRecordBlockProcessedAndQueueDepth(t *testing.T) {
	f := New(nil)
	f.RecordBlockProcessed(0.25)
	f.SetStoreQueueDepth(42)
	f.RecordStoreRecordsDropped(3)

	require.EqualValues(t, 1, f.blocksProcessed.Snapshot().Count())
	require.InDelta(t, 42.0, f.storeQueueDepth.Snapshot().Value(), 0.001)
	require.EqualValues(t, 3, f.storeRecordsDropped.Snapshot().Count())
}

func TestRegistryIsAccessible(t *testing.T) {
	r := gethmetrics.NewRegistry()
	f := New(r)
	require.Same(t, gethmetrics.Registry(r), f.Registry())
}
