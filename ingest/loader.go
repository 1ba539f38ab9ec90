package ingest

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/shardcore/bulkload/client"
)

// FailureCallback reports a row that will never complete successfully:
// a routing or coercion rejection, a batch failure that survived
// row-by-row resubmission, or a graceful-failure response from the
// database. It is mandatory for every loader (spec §4.5).
type FailureCallback func(handle interface{}, values []interface{}, resp client.Response)

// SuccessCallback reports a row the database accepted. It is optional,
// and — matching PerPartitionTable.m_successCallback — belongs to
// whichever loader first causes a shard to be created; loaders that
// join an already-existing shard do not get their own copy invoked.
type SuccessCallback func(handle interface{}, resp client.Response)

// LoaderConfig describes the table a BulkLoader writes to and how rows
// map onto it. Partitions is ignored for multi-partition tables and
// must be the table's true partition count otherwise: IngestManager
// uses it to pre-acquire every partition's shard up front, the same
// way a VoltBulkLoader subscribes to every partition at construction
// rather than discovering partitions lazily as rows arrive.
type LoaderConfig struct {
	Table                string
	Columns              []ColumnInfo
	MultiPartition       bool
	PartitionColumnIndex int
	Partitions           int
	ProcName             string
	Upsert               bool
	TriggerSize          int
	FailureCallback      FailureCallback
	SuccessCallback      SuccessCallback
}

// BulkLoader is the caller-facing handle described in spec §2 and §4:
// callers enqueue rows through Insert and are notified, per row,
// through FailureCallback/SuccessCallback once the row's outcome is
// final.
type BulkLoader struct {
	manager *IngestManager
	router  *PartitionRouter
	metrics *shardMetrics

	table                string
	columns              []ColumnInfo
	isMP                 bool
	partitionColumnIndex int
	partitionColumnType  ColumnType
	partitions           int
	procName             string
	upsert               bool
	triggerSize          int

	failureCB FailureCallback
	successCB SuccessCallback

	mu          sync.Mutex
	cond        *sync.Cond
	closed      bool
	outstanding int64
	completed   int64
	failed      int64

	shards []*PartitionShard
}

// NewBulkLoader validates cfg, registers the loader with manager, and
// eagerly acquires every shard the table will ever route to — one per
// partition, or the single MP shard.
func NewBulkLoader(manager *IngestManager, cfg LoaderConfig) (*BulkLoader, error) {
	if len(cfg.Columns) == 0 {
		return nil, ErrNoColumns
	}
	if cfg.FailureCallback == nil {
		return nil, errors.New("bulkloader: FailureCallback is required")
	}

	partitions := cfg.Partitions
	partitionColumnType := TypeBigInt
	if !cfg.MultiPartition {
		if cfg.PartitionColumnIndex < 0 || cfg.PartitionColumnIndex >= len(cfg.Columns) {
			return nil, ErrBadPartitionColumn
		}
		partitionColumnType = cfg.Columns[cfg.PartitionColumnIndex].Type
		if partitions <= 0 {
			partitions = 1
		}
	}

	trigger := cfg.TriggerSize
	if trigger <= 0 {
		trigger = 1
	}

	l := &BulkLoader{
		manager:              manager,
		table:                cfg.Table,
		columns:              cfg.Columns,
		isMP:                 cfg.MultiPartition,
		partitionColumnIndex: cfg.PartitionColumnIndex,
		partitionColumnType:  partitionColumnType,
		partitions:           partitions,
		procName:             cfg.ProcName,
		upsert:               cfg.Upsert,
		triggerSize:          trigger,
		failureCB:            cfg.FailureCallback,
		successCB:            cfg.SuccessCallback,
	}
	l.cond = sync.NewCond(&l.mu)
	l.router = newPartitionRouter(manager, manager.mapper)
	l.metrics = manager.metrics.forTable(cfg.Table)

	shards, err := manager.acquireShards(l)
	if err != nil {
		return nil, err
	}
	l.shards = shards
	return l, nil
}

// Insert routes values by the table's partition column (or to the
// shared MP shard), increments the loader's outstanding count, and
// enqueues the row on its shard — blocking if that shard's queue is
// full. A row whose partition key can't be coerced is reported to
// FailureCallback synchronously and is never counted as outstanding
// (spec §4.1, §7 InvalidPartitionKey).
func (l *BulkLoader) Insert(handle interface{}, values []interface{}) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if len(values) != len(l.columns) {
		return errors.Errorf("bulkloader: expected %d values, got %d", len(l.columns), len(values))
	}

	shard, err := l.router.route(l, values)
	if err != nil {
		l.failureCB(handle, values, client.Response{Status: client.StatusUserError, Message: err.Error()})
		return nil
	}

	l.mu.Lock()
	l.outstanding++
	l.mu.Unlock()
	l.metrics.outstandingRows.Inc()

	shard.enqueue(newRow(handle, values, l))
	return nil
}

// Future is returned by Flush; Wait blocks until every shard this
// loader touches has drained its currently pending rows into a batch
// submission (not until those submissions' responses arrive).
type Future struct {
	done chan struct{}
}

func (f *Future) Wait() { <-f.done }

// Flush asks every shard this loader touches to submit whatever rows
// are currently pending, even if that's fewer than the trigger size.
func (l *BulkLoader) Flush() *Future {
	f := &Future{done: make(chan struct{})}
	var wg sync.WaitGroup
	for _, s := range l.shards {
		wg.Add(1)
		go func(s *PartitionShard) {
			defer wg.Done()
			s.flush()
		}(s)
	}
	go func() {
		wg.Wait()
		close(f.done)
	}()
	return f
}

// Drain flushes every shard and then blocks until this loader's
// outstanding count reaches zero: every row submitted before the call
// has had its terminal callback fire, including any row-by-row
// resubmissions still in flight.
func (l *BulkLoader) Drain() {
	l.Flush().Wait()
	l.mu.Lock()
	for l.outstanding > 0 {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

// Close marks the loader closed (Insert returns ErrClosed from this
// point on — this package resolves the source's silence on inserts
// racing shutdown by rejecting them outright), drains it, and releases
// its hold on every shard it acquired.
func (l *BulkLoader) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.Drain()
	return l.manager.releaseShards(l)
}

func (l *BulkLoader) addCompleted(n int64) {
	l.mu.Lock()
	l.completed += n
	l.outstanding -= n
	l.cond.Broadcast()
	l.mu.Unlock()
	l.metrics.outstandingRows.Sub(float64(n))
}

func (l *BulkLoader) addFailed(row *Row, resp client.Response) {
	l.failureCB(row.Handle, row.Values, resp)
	l.mu.Lock()
	l.failed++
	l.outstanding--
	l.cond.Broadcast()
	l.mu.Unlock()
	l.metrics.outstandingRows.Dec()
}

func (l *BulkLoader) Outstanding() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outstanding
}

func (l *BulkLoader) Completed() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.completed
}

func (l *BulkLoader) Failed() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}
