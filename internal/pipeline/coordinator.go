// Package pipeline implements the Pipeline Coordinator (spec §4.7): it
// subscribes to a BlockNotifier, applies the start-block gate, dispatches
// each committed block through the replay driver and classifier on a
// fixed-size worker pool, and feeds classified divergences to the store.
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/JekaMas/workerpool"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/carlbeek/gas-repricer/internal/classifier"
	"github.com/carlbeek/gas-repricer/internal/metricsfacade"
	"github.com/carlbeek/gas-repricer/internal/replay"
	"github.com/carlbeek/gas-repricer/internal/store"
)

// State is a block's position in the per-block state machine (spec §4.7).
type State int

const (
	StateReceived State = iota
	StateGated
	StateReplaying
	StateClassifying
	StateSubmitting
	StateDone
	StateSkipped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateGated:
		return "GATED"
	case StateReplaying:
		return "REPLAYING"
	case StateClassifying:
		return "CLASSIFYING"
	case StateSubmitting:
		return "SUBMITTING"
	case StateDone:
		return "DONE"
	case StateSkipped:
		return "SKIPPED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Sink is the subset of *store.Store the coordinator submits to; an
// interface so tests can substitute an in-memory fake (SPEC_FULL §D).
type Sink interface {
	Submit(d *classifier.Divergence) store.Outcome
	UpsertGasLoop(c *classifier.GasLoopCandidate) error
}

// Coordinator is the Pipeline Coordinator.
type Coordinator struct {
	notifier   replay.BlockNotifier
	driver     *replay.Driver
	classifier *classifier.Classifier
	sink       Sink
	metrics    *metricsfacade.Facade
	log        log.Logger

	startBlock uint64
	pool       *workerpool.WorkerPool

	mu           sync.Mutex
	inFlight     map[uint64]context.CancelFunc
	blockStates  map[uint64]State
	shuttingDown bool
	wg           sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWorkerCount overrides the default (cores-1) fixed worker pool size.
func WithWorkerCount(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.pool = workerpool.New(n)
		}
	}
}

// WithStartBlock sets the start_block gate (spec §6).
func WithStartBlock(b uint64) Option {
	return func(c *Coordinator) { c.startBlock = b }
}

// WithMetrics attaches a MetricsFacade.
func WithMetrics(m *metricsfacade.Facade) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New constructs a Coordinator. The default worker pool size is
// available cores minus one, per spec §5.
func New(notifier replay.BlockNotifier, driver *replay.Driver, cls *classifier.Classifier, sink Sink, opts ...Option) *Coordinator {
	c := &Coordinator{
		notifier:    notifier,
		driver:      driver,
		classifier:  cls,
		sink:        sink,
		log:         log.New("component", "pipeline-coordinator"),
		inFlight:    make(map[uint64]context.CancelFunc),
		blockStates: make(map[uint64]State),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pool == nil {
		workers := runtime.NumCPU() - 1
		if workers < 1 {
			workers = 1
		}
		c.pool = workerpool.New(workers)
	}
	return c
}

// Run consumes notifications until ctx is cancelled, then drains
// in-flight work and stops the worker pool (spec §5 cancellation).
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case n, ok := <-c.notifier.Notifications():
			if !ok {
				c.shutdown()
				return
			}
			c.handle(ctx, n)
		}
	}
}

func (c *Coordinator) shutdown() {
	c.mu.Lock()
	c.shuttingDown = true
	c.mu.Unlock()

	c.pool.StopWait()
	c.wg.Wait()
}

func (c *Coordinator) handle(ctx context.Context, n replay.Notification) {
	switch n.Kind {
	case replay.KindReverted:
		c.handleReorg(n.RevertedFrom, n.RevertedTo)
	case replay.KindCommitted:
		c.dispatch(ctx, n)
	}
}

// handleReorg abandons in-flight work for the orphaned range (spec §4.7).
// No stored records are rolled back: they remain dated by the block
// number they were produced under.
func (c *Coordinator) handleReorg(from, to uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for block, cancel := range c.inFlight {
		if block >= from && block <= to {
			cancel()
			delete(c.inFlight, block)
			c.blockStates[block] = StateFailed
		}
	}
}

func (c *Coordinator) setState(block uint64, s State) {
	c.mu.Lock()
	c.blockStates[block] = s
	c.mu.Unlock()
}

// BlockState reports the current state machine position for a block
// number, or false if the coordinator has no record of it.
func (c *Coordinator) BlockState(block uint64) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.blockStates[block]
	return s, ok
}

func (c *Coordinator) dispatch(ctx context.Context, n replay.Notification) {
	block := n.Block
	number := block.NumberU64()

	c.setState(number, StateReceived)

	if number < c.startBlock {
		c.setState(number, StateGated)
		c.setState(number, StateSkipped)
		return
	}

	blockCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		cancel()
		return
	}
	c.inFlight[number] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	c.pool.Submit(func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inFlight, number)
			c.mu.Unlock()
		}()
		c.process(blockCtx, block, n.Result)
	})
}

func (c *Coordinator) process(ctx context.Context, block *types.Block, result *replay.BlockExecutionResult) {
	number := block.NumberU64()
	start := time.Now()

	c.setState(number, StateReplaying)
	pairs, err := c.driver.Analyze(ctx, block, result)
	if err != nil {
		c.log.Warn("skipping block", "block", number, "err", err)
		c.setState(number, StateFailed)
		return
	}

	// A reorg covering this block has already removed it from inFlight and
	// marked it FAILED; its replay results are discarded.
	c.mu.Lock()
	_, live := c.inFlight[number]
	c.mu.Unlock()
	if !live {
		return
	}

	c.setState(number, StateClassifying)
	ts := block.Time()
	for _, pair := range pairs {
		meta := classifier.TxMeta{
			BlockNumber: number,
			TxIndex:     pair.TxIndex,
			TxHash:      pair.TxHash,
			Timestamp:   ts,
		}
		div, loopCand, err := c.classifier.Classify(meta, pair.Normal, pair.Experiment)
		if err != nil {
			c.log.Warn("classification failed", "block", number, "tx", pair.TxIndex, "err", err)
			continue
		}

		c.setState(number, StateSubmitting)
		if div != nil {
			if c.sink.Submit(div) == store.Dropped && c.metrics != nil {
				c.metrics.RecordStoreRecordsDropped(1)
			}
			if c.metrics != nil {
				c.metrics.RecordDivergence(div)
				c.metrics.RecordGasEfficiencyRatio(div.GasAnalysis.GasEfficiencyRatio)
			}
		}
		if loopCand != nil {
			if err := c.sink.UpsertGasLoop(loopCand); err != nil {
				c.log.Warn("failed to record gas-loop candidate", "block", number, "err", err)
			}
		}
	}

	if c.metrics != nil {
		c.metrics.RecordBlockProcessed(time.Since(start).Seconds())
	}
	c.setState(number, StateDone)
}
