package ingest

import (
	"sync"

	"github.com/shardcore/bulkload/client"
	"github.com/shardcore/bulkload/logger"
)

// shardKey identifies one PartitionShard within an IngestManager: a
// table name plus a logical partition id, or partitionID -1 for the
// single shared shard that backs a multi-partition table.
type shardKey struct {
	table       string
	partitionID int
}

const mpPartitionID = -1

// commands sent to a shard's single worker goroutine. All four are
// processed strictly in order, which is what gives the worker
// exclusive, lock-free access to pending, buf and triggerSize.
type enqueueCmd struct{ row *Row }
type flushCmd struct{ done chan struct{} }
type shutdownCmd struct{ done chan struct{} }
type updateTriggerCmd struct{ n int }

// PartitionShard owns one partition's worth of in-flight rows: a
// bounded queue, a reusable batch buffer, and the single goroutine that
// drains the queue into stored-procedure calls (spec §4.2). It is
// grounded on VoltBulkLoader's PerPartitionTable, which pins the same
// responsibilities to a single-threaded ExecutorService backed by a
// LinkedBlockingQueue sized at 5x the batch trigger size.
type PartitionShard struct {
	key   shardKey
	isMP  bool
	table string

	columns              []ColumnInfo
	partitionColumnIndex int
	partitionColumnType  ColumnType
	procName             string
	upsert               bool

	client        client.ProcedureClient
	autoReconnect bool
	log           logger.Logger
	metrics       *shardMetrics

	// successCallback is optional and belongs to the shard, not to any
	// one loader: it is captured from whichever loader first caused the
	// shard to be created and never reassigned afterwards. This mirrors
	// PerPartitionTable.m_successCallback, which VoltBulkLoader treats
	// the same way.
	successCallback SuccessCallback

	cmds chan interface{}

	// pending and buf are owned exclusively by run(); nothing else may
	// touch them.
	pending     []*Row
	buf         *Batch
	triggerSize int

	parkMu       sync.Mutex
	parkCond     *sync.Cond
	reconnectGen uint64

	shutdownOnce sync.Once
}

func newPartitionShard(key shardKey, isMP bool, firstLoader *BulkLoader, c client.ProcedureClient, autoReconnect bool, log logger.Logger, metrics *shardMetrics) *PartitionShard {
	trigger := firstLoader.triggerSize
	if trigger <= 0 {
		trigger = 1
	}
	s := &PartitionShard{
		key:                  key,
		isMP:                 isMP,
		table:                firstLoader.table,
		columns:              firstLoader.columns,
		partitionColumnIndex: firstLoader.partitionColumnIndex,
		partitionColumnType:  firstLoader.partitionColumnType,
		procName:             firstLoader.procName,
		upsert:               firstLoader.upsert,
		client:               c,
		autoReconnect:        autoReconnect,
		log:                  log,
		metrics:              metrics,
		successCallback:      firstLoader.successCB,
		cmds:                 make(chan interface{}, trigger*5),
		buf:                  newBatch(firstLoader.columns),
		triggerSize:          trigger,
	}
	s.parkCond = sync.NewCond(&s.parkMu)
	go s.run()
	return s
}

func (s *PartitionShard) enqueue(row *Row) {
	s.cmds <- enqueueCmd{row: row}
}

func (s *PartitionShard) flush() {
	done := make(chan struct{})
	s.cmds <- flushCmd{done: done}
	<-done
}

func (s *PartitionShard) updateTriggerSize(n int) {
	if n <= 0 {
		return
	}
	s.cmds <- updateTriggerCmd{n: n}
}

func (s *PartitionShard) shutdown() {
	s.shutdownOnce.Do(func() {
		done := make(chan struct{})
		s.cmds <- shutdownCmd{done: done}
		<-done
		close(s.cmds)
	})
}

// wake releases every goroutine currently parked on this shard after a
// connection loss. Called by IngestManager.NotifyReconnected.
func (s *PartitionShard) wake() {
	s.parkMu.Lock()
	s.reconnectGen++
	s.parkCond.Broadcast()
	s.parkMu.Unlock()
}

func (s *PartitionShard) parkForReconnect() {
	s.parkMu.Lock()
	gen := s.reconnectGen
	for s.reconnectGen == gen {
		s.parkCond.Wait()
	}
	s.parkMu.Unlock()
}

// run is the shard's single worker goroutine. It is the only place
// that ever reads or writes pending, buf and triggerSize, so none of
// those fields need their own lock.
func (s *PartitionShard) run() {
	for cmd := range s.cmds {
		switch c := cmd.(type) {
		case enqueueCmd:
			s.pending = append(s.pending, c.row)
			for len(s.pending) >= s.triggerSize {
				s.drainOnce()
			}
		case flushCmd:
			for len(s.pending) > 0 {
				s.drainOnce()
			}
			close(c.done)
		case updateTriggerCmd:
			// Trigger size only ever lowers, matching
			// PerPartitionTable.updateMinBatchTriggerSize: a later, larger
			// loader joining the same shard must not relax a smaller
			// loader's flush latency.
			if c.n < s.triggerSize {
				s.triggerSize = c.n
			}
		case shutdownCmd:
			for len(s.pending) > 0 {
				s.drainOnce()
			}
			close(c.done)
			return
		}
	}
}

// drainOnce removes up to triggerSize rows from pending (fewer, if
// that's all there is — this is also how a partial batch gets flushed)
// coerces them, and submits whatever survives coercion as one batch.
// Runs only on the worker goroutine.
func (s *PartitionShard) drainOnce() {
	n := s.triggerSize
	if n <= 0 || n > len(s.pending) {
		n = len(s.pending)
	}
	if n == 0 {
		return
	}
	batchRows := s.pending[:n]
	rest := make([]*Row, len(s.pending)-n)
	copy(rest, s.pending[n:])
	s.pending = rest

	s.buf.reset()
	coercedRows := make([]*Row, 0, n)
	tally := make(map[*BulkLoader]int64)
	for _, row := range batchRows {
		values, err := coerceRowValues(row.Values, s.columns)
		if err != nil {
			s.log.Debugf("bulkload: dropping row from batch on %s: %v", s.table, err)
			row.loader.addFailed(row, client.Response{Status: client.StatusUserError, Message: ErrParameterType.Error() + ": " + err.Error()})
			continue
		}
		s.buf.addRow(values)
		coercedRows = append(coercedRows, row)
		tally[row.loader]++
	}
	if s.buf.Len() == 0 {
		return
	}

	s.metrics.batchesSubmitted.Inc()
	args := s.procArgs(s.buf)
	s.callWithReconnect(args, func(resp client.Response) {
		s.onBatchResponse(resp, coercedRows, tally)
	})
	s.buf.reset()
}

// procArgs builds the stored-procedure argument list for buf: a
// routing parameter derived from the first row's partition column for
// single-partition calls, nothing for multi-partition calls (spec §6).
func (s *PartitionShard) procArgs(buf *Batch) []interface{} {
	upsertFlag := int8(0)
	if s.upsert {
		upsertFlag = 1
	}
	if s.isMP {
		return []interface{}{s.table, upsertFlag, buf}
	}
	routingParam, err := valueToBytes(buf.Values[0][s.partitionColumnIndex], s.partitionColumnType)
	if err != nil {
		// Can't happen: every row in buf already passed coerceRowValues
		// against the same column types this partition key comes from.
		s.log.Panicf("bulkload: routing parameter derivation failed after coercion: %v", err)
	}
	return []interface{}{routingParam, s.table, upsertFlag, buf}
}

// callWithReconnect submits one stored-procedure call, parking and
// retrying on connection loss when auto-reconnect is enabled, and
// otherwise synthesizing a ConnectionLost response so the caller's
// callback still always fires exactly once. This is the one piece of
// submission logic shared by the main drain path and row-by-row
// resubmission, grounded on PerPartitionTable.loadTable.
func (s *PartitionShard) callWithReconnect(args []interface{}, cb client.ResponseCallback) {
	for {
		err := s.client.CallProcedure(s.procName, cb, args...)
		if err == nil {
			return
		}
		if !s.autoReconnect {
			cb(client.Response{Status: client.StatusConnectionLost, Message: err.Error()})
			return
		}
		s.metrics.reconnectParks.Inc()
		s.parkForReconnect()
	}
}

// onBatchResponse is invoked on whatever goroutine the ProcedureClient
// delivers responses on; a ConnectionLost response synthesized by
// callWithReconnect is delivered synchronously on the worker goroutine.
// It touches no shard-exclusive state (only the shard's read-only
// config and per-loader bookkeeping), so it needs no affinity to run().
func (s *PartitionShard) onBatchResponse(resp client.Response, rows []*Row, tally map[*BulkLoader]int64) {
	if resp.Status != client.StatusSuccess {
		s.metrics.batchFailures.Inc()
		for _, row := range rows {
			s.resubmitRow(row)
		}
		return
	}
	s.metrics.batchSuccesses.Inc()
	if s.successCallback != nil {
		for _, row := range rows {
			s.successCallback(row.Handle, resp)
		}
	}
	for loader, n := range tally {
		loader.addCompleted(n)
	}
}

// resubmitRow resubmits a single row in a fresh, one-row batch (spec
// §4.3). It never touches the shard's shared pending slice or reusable
// buffer, so — like onBatchResponse — it's safe to run on whatever
// goroutine calls it, including recursively from a row's own response.
func (s *PartitionShard) resubmitRow(row *Row) {
	values, err := coerceRowValues(row.Values, s.columns)
	if err != nil {
		// Already coerced once to get into this batch; a second failure
		// here would mean the column set changed mid-flight, which never
		// happens for a single loader's lifetime.
		s.log.Errorf("bulkload: unexpected coercion failure on resubmit: %v", err)
		row.loader.addFailed(row, client.Response{Status: client.StatusUserError, Message: err.Error()})
		return
	}
	buf := newBatch(s.columns)
	buf.addRow(values)
	s.metrics.rowsResubmitted.Inc()
	args := s.procArgs(buf)
	s.callWithReconnect(args, func(resp client.Response) {
		s.onRowResponse(resp, row)
	})
}

// onRowResponse resolves a single resubmitted row. ConnectionLost with
// auto-reconnect enabled re-queues the row for another row-by-row
// attempt in isolation; every other outcome is terminal.
func (s *PartitionShard) onRowResponse(resp client.Response, row *Row) {
	if resp.Status == client.StatusConnectionLost && s.autoReconnect {
		s.resubmitRow(row)
		return
	}
	if resp.Status != client.StatusSuccess {
		row.loader.addFailed(row, resp)
		return
	}
	if s.successCallback != nil {
		s.successCallback(row.Handle, resp)
	}
	row.loader.addCompleted(1)
}
