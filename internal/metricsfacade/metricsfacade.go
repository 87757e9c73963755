// Package metricsfacade implements the MetricsFacade described in spec §9:
// a thin wrapper over go-ethereum's metrics registry exposing the fixed
// set of counters, histograms, and gauges the pipeline and store report
// against, so the rest of the module never touches metrics.Registry
// directly.
package metricsfacade

import (
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/carlbeek/gas-repricer/internal/classifier"
	"github.com/carlbeek/gas-repricer/internal/facts"
)

// Facade is the MetricsFacade.
type Facade struct {
	registry metrics.Registry

	blocksProcessed     metrics.Counter
	divergencesTotal    metrics.Counter
	divergencesByType   map[classifier.DivergenceType]metrics.Counter
	oogByPattern        map[facts.OOGPattern]metrics.Counter
	gasEfficiencyRatio  metrics.Histogram
	blockProcessingSec  metrics.Histogram
	storeQueueDepth     metrics.GaugeFloat64
	storeRecordsDropped metrics.Counter
}

// New constructs a Facade and registers every metric against r. Passing a
// nil registry falls back to metrics.DefaultRegistry, matching the
// convention of the corpus's metrics.NewRegistered* call sites.
func New(r metrics.Registry) *Facade {
	if r == nil {
		r = metrics.DefaultRegistry
	}

	f := &Facade{
		registry:            r,
		blocksProcessed:     metrics.NewRegisteredCounter("gasrepricer/blocks_processed", r),
		divergencesTotal:    metrics.NewRegisteredCounter("gasrepricer/divergences_total", r),
		divergencesByType:   make(map[classifier.DivergenceType]metrics.Counter),
		oogByPattern:        make(map[facts.OOGPattern]metrics.Counter),
		gasEfficiencyRatio:  metrics.NewRegisteredHistogram("gasrepricer/gas_efficiency_ratio", r, metrics.NewExpDecaySample(1028, 0.015)),
		blockProcessingSec:  metrics.NewRegisteredHistogram("gasrepricer/block_processing_time", r, metrics.NewExpDecaySample(1028, 0.015)),
		storeQueueDepth:     metrics.NewRegisteredGaugeFloat64("gasrepricer/store_queue_depth", r),
		storeRecordsDropped: metrics.NewRegisteredCounter("gasrepricer/store_records_dropped", r),
	}

	for _, t := range []classifier.DivergenceType{
		classifier.TypeStatus, classifier.TypeGasPattern, classifier.TypeStateRoot,
		classifier.TypeEventLogs, classifier.TypeCallTree, classifier.TypeOutOfGas,
	} {
		f.divergencesByType[t] = metrics.NewRegisteredCounter("gasrepricer/divergences_by_type/"+string(t), r)
	}

	for _, p := range []facts.OOGPattern{
		facts.PatternUnknown, facts.PatternLoop, facts.PatternMemoryExpansion,
		facts.PatternCallChain, facts.PatternStorageHeavy,
	} {
		f.oogByPattern[p] = metrics.NewRegisteredCounter("gasrepricer/oog_events_total/"+p.String(), r)
	}

	return f
}

// RecordBlockProcessed increments blocks_processed and observes the block
// processing duration into block_processing_time (spec §9). The duration
// is passed in seconds and recorded as whole milliseconds, since
// go-ethereum histograms operate on int64 samples.
func (f *Facade) RecordBlockProcessed(durationSeconds float64) {
	f.blocksProcessed.Inc(1)
	f.blockProcessingSec.Update(int64(durationSeconds * 1000))
}

// RecordDivergence increments divergences_total and the per-type and
// per-OOG-pattern counters for a classified Divergence.
func (f *Facade) RecordDivergence(d *classifier.Divergence) {
	f.divergencesTotal.Inc(1)
	for _, t := range d.Types {
		if c, ok := f.divergencesByType[t]; ok {
			c.Inc(1)
		}
	}
	if d.OOG != nil {
		if c, ok := f.oogByPattern[d.OOG.Pattern]; ok {
			c.Inc(1)
		}
	}
}

// RecordGasEfficiencyRatio observes a gas_efficiency_ratio sample,
// scaled by 1e6 since go-ethereum histograms operate on int64 samples.
func (f *Facade) RecordGasEfficiencyRatio(ratio float64) {
	f.gasEfficiencyRatio.Update(int64(ratio * 1e6))
}

// SetStoreQueueDepth updates the store_queue_depth gauge.
func (f *Facade) SetStoreQueueDepth(depth int) {
	f.storeQueueDepth.Update(float64(depth))
}

// RecordStoreRecordsDropped increments store_records_dropped by n.
func (f *Facade) RecordStoreRecordsDropped(n int) {
	f.storeRecordsDropped.Inc(int64(n))
}

// Registry exposes the underlying metrics.Registry, e.g. for wiring a
// reporter (InfluxDB, Prometheus) the way cmd/ wires the teacher's CLI
// flags; the corpus's metrics/prometheus and metrics/influxdb packages
// both operate directly against a metrics.Registry.
func (f *Facade) Registry() metrics.Registry {
	return f.registry
}
