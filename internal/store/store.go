// Package store implements the DivergenceStore (spec §4.6): a bounded,
// non-blocking submit queue drained by a single writer task that batches
// inserts into a single-file embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/ethereum/go-ethereum/log"

	"github.com/carlbeek/gas-repricer/internal/classifier"
)

// Outcome is the result of a Submit call.
type Outcome int

const (
	Accepted Outcome = iota
	Dropped
)

var backoffSchedule = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
	1600 * time.Millisecond,
}

// errPermanent marks a store error that retrying cannot fix (spec §7.4).
var errPermanent = errors.New("store: permanent failure")

// Hooks lets a caller observe store internals (e.g. to feed a
// MetricsFacade, or from tests) without the store package depending on
// metrics types directly.
type Hooks struct {
	OnDropped    func(n int)
	OnQueueDepth func(n int)
	OnBatchWrite func(n int)
	OnGasLoop    func()
}

// Store is the DivergenceStore.
type Store struct {
	db            *sql.DB
	queue         chan *classifier.Divergence
	batchSize     int
	hooks         Hooks
	log           log.Logger
	degraded      atomic.Bool
	lastDegradeLg atomic.Int64

	wg       sync.WaitGroup
	closedMu sync.Mutex
	closed   bool
}

// Open opens (creating if absent) a single-file SQLite database at
// dbPath, applies the schema, and starts the writer task. queueCapacity
// and batchSize correspond to spec §6's queue_capacity/batch_size options.
func Open(dbPath string, queueCapacity, batchSize uint32, hooks Hooks) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "store: failed to open %s", dbPath)
	}
	db.SetMaxOpenConns(1) // single-writer ownership per spec §5

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "store: failed to apply schema to %s", dbPath)
	}

	if batchSize == 0 {
		batchSize = 256
	}
	if queueCapacity == 0 {
		queueCapacity = 4096
	}

	s := &Store{
		db:        db,
		queue:     make(chan *classifier.Divergence, queueCapacity),
		batchSize: int(batchSize),
		hooks:     hooks,
		log:       log.New("component", "divergence-store"),
	}

	s.wg.Add(1)
	go s.writerLoop()

	return s, nil
}

// Submit is the non-blocking contract described in spec §4.6: it never
// blocks the pipeline and never fails user-visibly.
func (s *Store) Submit(d *classifier.Divergence) Outcome {
	if s.degraded.Load() {
		s.logDegradedOnce()
		s.drop(1)
		return Dropped
	}

	select {
	case s.queue <- d:
		if s.hooks.OnQueueDepth != nil {
			s.hooks.OnQueueDepth(len(s.queue))
		}
		return Accepted
	default:
		s.drop(1)
		return Dropped
	}
}

func (s *Store) drop(n int) {
	if s.hooks.OnDropped != nil {
		s.hooks.OnDropped(n)
	}
}

func (s *Store) logDegradedOnce() {
	now := time.Now().Unix()
	last := s.lastDegradeLg.Load()
	if now-last < 60 {
		return
	}
	if s.lastDegradeLg.CompareAndSwap(last, now) {
		s.log.Error("divergence store is in degraded mode; dropping all submissions")
	}
}

func (s *Store) writerLoop() {
	defer s.wg.Done()

	batch := make([]*classifier.Divergence, 0, s.batchSize)
	for d := range s.queue {
		batch = append(batch, d)
		batch = s.drainMore(batch)
		batch = s.flush(batch)
	}
	s.flush(batch)
}

func (s *Store) drainMore(batch []*classifier.Divergence) []*classifier.Divergence {
	for len(batch) < s.batchSize {
		select {
		case d, ok := <-s.queue:
			if !ok {
				return batch
			}
			batch = append(batch, d)
		default:
			return batch
		}
	}
	return batch
}

func (s *Store) flush(batch []*classifier.Divergence) []*classifier.Divergence {
	if len(batch) == 0 {
		return batch[:0]
	}
	if err := s.writeBatchWithRetry(batch); err != nil {
		s.log.Warn("dropping divergence batch after exhausting retries", "size", len(batch), "err", err)
		s.drop(len(batch))
	} else if s.hooks.OnBatchWrite != nil {
		s.hooks.OnBatchWrite(len(batch))
	}
	return batch[:0]
}

func (s *Store) writeBatchWithRetry(batch []*classifier.Divergence) error {
	var lastErr error
	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		err := s.writeBatch(batch)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, errPermanent) {
			s.enterDegradedMode(err)
			return err
		}
		if attempt < len(backoffSchedule) {
			time.Sleep(backoffSchedule[attempt])
		}
	}
	return lastErr
}

func (s *Store) writeBatch(batch []*classifier.Divergence) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "store: begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO divergences (
		block_number, tx_index, tx_hash, timestamp, types,
		normal_gas_used, experimental_gas_used, gas_multiplier, gas_efficiency_ratio,
		normal_ops_json, experimental_ops_json, location_json, oog_json, call_trees_json, event_logs_json
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return errors.Wrap(err, "store: prepare insert")
	}
	defer stmt.Close()

	for _, d := range batch {
		r, err := toRow(d)
		if err != nil {
			return errors.Mark(errors.Wrap(err, "store: encode divergence"), errPermanent)
		}
		if _, err := stmt.Exec(
			r.blockNumber, r.txIndex, r.txHash, r.timestamp, r.types,
			r.normalGasUsed, r.experimentalGasUsed, r.gasMultiplier, r.gasEfficiencyRatio,
			r.normalOpsJSON, r.experimentalOpsJSON, r.locationJSON, r.oogJSON, r.callTreesJSON, r.eventLogsJSON,
		); err != nil {
			return errors.Wrap(err, "store: insert divergence")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "store: commit batch")
	}
	return nil
}

// UpsertGasLoop records an advisory gas_loops candidate (SPEC_FULL §C.1).
func (s *Store) UpsertGasLoop(c *classifier.GasLoopCandidate) error {
	_, err := s.db.Exec(
		`INSERT INTO gas_loops (contract, selector, first_block, observed_threshold)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(contract, selector) DO NOTHING`,
		c.Contract.Hex(), hexSelector(c.FunctionSelector), c.Block, c.ObservedRatio,
	)
	if err != nil {
		return errors.Wrap(err, "store: upsert gas_loops")
	}
	if s.hooks.OnGasLoop != nil {
		s.hooks.OnGasLoop()
	}
	return nil
}

func hexSelector(sel [4]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 2+len(sel)*2)
	out[0], out[1] = '0', 'x'
	for i, b := range sel {
		out[2+i*2] = hexdigits[b>>4]
		out[2+i*2+1] = hexdigits[b&0xf]
	}
	return string(out)
}

func (s *Store) enterDegradedMode(cause error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.log.Error("divergence store entering degraded mode", "cause", cause)
	}
}

// Degraded reports whether the store has entered degraded mode (spec §7.4).
func (s *Store) Degraded() bool { return s.degraded.Load() }

// QueryByBlock returns every divergence recorded for a block number,
// exercising the idx_block secondary index (spec §6).
func (s *Store) QueryByBlock(ctx context.Context, blockNumber uint64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT block_number, tx_index, tx_hash, timestamp, types,
		normal_gas_used, experimental_gas_used, gas_multiplier, gas_efficiency_ratio
		FROM divergences WHERE block_number = ? ORDER BY tx_index`, blockNumber)
	if err != nil {
		return nil, errors.Wrap(err, "store: query by block")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// QueryByType returns every divergence whose types column contains the
// given DivergenceType name, using the LIKE '%"TYPE"%' query pattern spec
// §6 documents. A LIKE pattern with a leading wildcard cannot use the
// idx_types index, so this query scans the table.
func (s *Store) QueryByType(ctx context.Context, t classifier.DivergenceType) ([]Record, error) {
	pattern := `%"` + string(t) + `"%`
	rows, err := s.db.QueryContext(ctx, `SELECT block_number, tx_index, tx_hash, timestamp, types,
		normal_gas_used, experimental_gas_used, gas_multiplier, gas_efficiency_ratio
		FROM divergences WHERE types LIKE ? ORDER BY block_number`, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "store: query by type")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Record is a lightweight projection of a stored divergence, used for
// querying and durability tests (P6).
type Record struct {
	BlockNumber         uint64
	TxIndex             int
	TxHash              []byte
	Timestamp           uint64
	Types               string
	NormalGasUsed       uint64
	ExperimentalGasUsed uint64
	GasMultiplier       uint64
	GasEfficiencyRatio  float64
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.BlockNumber, &r.TxIndex, &r.TxHash, &r.Timestamp, &r.Types,
			&r.NormalGasUsed, &r.ExperimentalGasUsed, &r.GasMultiplier, &r.GasEfficiencyRatio); err != nil {
			return nil, errors.Wrap(err, "store: scan row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close drains the queue up to deadline and releases the database handle
// (spec §4.6, §5 cancellation: "calls store.close() which drains up to a
// deadline (default 30s) before abandoning remaining queued records").
func (s *Store) Close(deadline time.Duration) error {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return nil
	}
	s.closed = true
	s.closedMu.Unlock()

	close(s.queue)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		s.log.Warn("store close deadline exceeded; abandoning remaining queued records")
	}

	return s.db.Close()
}
