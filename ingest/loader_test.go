package ingest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardcore/bulkload/client"
)

func newTestLoader(t *testing.T, c *fakeClient, cfg LoaderConfig, successes, failures *[]interface{}, mu *sync.Mutex) *BulkLoader {
	t.Helper()
	manager := NewIngestManager(c)
	cfg.FailureCallback = func(handle interface{}, values []interface{}, resp client.Response) {
		mu.Lock()
		*failures = append(*failures, handle)
		mu.Unlock()
	}
	cfg.SuccessCallback = func(handle interface{}, resp client.Response) {
		mu.Lock()
		*successes = append(*successes, handle)
		mu.Unlock()
	}
	l, err := NewBulkLoader(manager, cfg)
	require.NoError(t, err)
	return l
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition never became true")
}

// A multi-partition table flushed at the trigger size: every row
// succeeds in a single batch call.
func TestBulkLoader_MultiPartitionHappyPath(t *testing.T) {
	var mu sync.Mutex
	var successes, failures []interface{}
	c := newFakeClient(alwaysSucceed)

	l := newTestLoader(t, c, LoaderConfig{
		Table:          "events",
		Columns:        []ColumnInfo{{Name: "id", Type: TypeBigInt}, {Name: "payload", Type: TypeString}},
		MultiPartition: true,
		ProcName:       "events.insert",
		TriggerSize:    3,
	}, &successes, &failures, &mu)
	defer l.Close()

	for i := int64(0); i < 3; i++ {
		require.NoError(t, l.Insert(i, []interface{}{i, "row"}))
	}

	l.Drain()

	assert.Equal(t, 1, c.CallCount())
	mu.Lock()
	assert.ElementsMatch(t, []interface{}{int64(0), int64(1), int64(2)}, successes)
	assert.Empty(t, failures)
	mu.Unlock()
	assert.EqualValues(t, 3, l.Completed())
	assert.EqualValues(t, 0, l.Failed())
	assert.EqualValues(t, 0, l.Outstanding())
}

// Fewer rows than the trigger size only submit once Flush (or Drain,
// or Close) is called.
func TestBulkLoader_SubTriggerFlush(t *testing.T) {
	var mu sync.Mutex
	var successes, failures []interface{}
	c := newFakeClient(alwaysSucceed)

	l := newTestLoader(t, c, LoaderConfig{
		Table:          "events",
		Columns:        []ColumnInfo{{Name: "id", Type: TypeBigInt}},
		MultiPartition: true,
		ProcName:       "events.insert",
		TriggerSize:    10,
	}, &successes, &failures, &mu)
	defer l.Close()

	require.NoError(t, l.Insert(1, []interface{}{int64(1)}))
	require.NoError(t, l.Insert(2, []interface{}{int64(2)}))

	assert.Equal(t, 0, c.CallCount())

	l.Flush().Wait()
	waitFor(t, time.Second, func() bool { return l.Outstanding() == 0 })

	assert.Equal(t, 1, c.CallCount())
	assert.EqualValues(t, 2, l.Completed())
}

// One row in a batch fails to coerce; the rest of the batch still
// submits, and the bad row is reported without ever reaching the
// database client.
func TestBulkLoader_OneBadRowInBatch(t *testing.T) {
	var mu sync.Mutex
	var successes, failures []interface{}
	c := newFakeClient(alwaysSucceed)

	l := newTestLoader(t, c, LoaderConfig{
		Table:          "events",
		Columns:        []ColumnInfo{{Name: "id", Type: TypeBigInt}},
		MultiPartition: true,
		ProcName:       "events.insert",
		TriggerSize:    3,
	}, &successes, &failures, &mu)
	defer l.Close()

	require.NoError(t, l.Insert(1, []interface{}{int64(1)}))
	require.NoError(t, l.Insert(2, []interface{}{"not-a-number"}))
	require.NoError(t, l.Insert(3, []interface{}{int64(3)}))

	l.Drain()

	assert.Equal(t, 1, c.CallCount())
	mu.Lock()
	assert.ElementsMatch(t, []interface{}{1, 3}, successes)
	assert.Equal(t, []interface{}{2}, failures)
	mu.Unlock()
	assert.EqualValues(t, 2, l.Completed())
	assert.EqualValues(t, 1, l.Failed())
}

// A batch-level failure falls back to resubmitting every row
// individually; rows that then succeed are reported as successes.
func TestBulkLoader_BatchFailureResubmitsRowByRow(t *testing.T) {
	var mu sync.Mutex
	var successes, failures []interface{}

	var callCount int
	var callMu sync.Mutex
	c := newFakeClient(func(call fakeCall) (client.Response, error) {
		callMu.Lock()
		defer callMu.Unlock()
		callCount++
		if callCount == 1 {
			return client.Response{Status: client.StatusGracefulFailure}, nil
		}
		return client.Response{Status: client.StatusSuccess}, nil
	})

	l := newTestLoader(t, c, LoaderConfig{
		Table:          "events",
		Columns:        []ColumnInfo{{Name: "id", Type: TypeBigInt}},
		MultiPartition: true,
		ProcName:       "events.insert",
		TriggerSize:    2,
	}, &successes, &failures, &mu)
	defer l.Close()

	require.NoError(t, l.Insert(1, []interface{}{int64(1)}))
	require.NoError(t, l.Insert(2, []interface{}{int64(2)}))

	l.Drain()

	// One batch call, then one row-by-row call per row in the batch.
	assert.Equal(t, 3, c.CallCount())
	mu.Lock()
	assert.ElementsMatch(t, []interface{}{1, 2}, successes)
	assert.Empty(t, failures)
	mu.Unlock()
	assert.EqualValues(t, 2, l.Completed())
}

// Two loaders sharing a table rebalance the shared shard's trigger
// size down to the smaller of the two.
func TestBulkLoader_SharedTableRebalancesTriggerSize(t *testing.T) {
	var mu sync.Mutex
	var successes []interface{}
	c := newFakeClient(alwaysSucceed)
	manager := NewIngestManager(c)

	cb := func(handle interface{}, values []interface{}, resp client.Response) {}
	scb := func(handle interface{}, resp client.Response) {
		mu.Lock()
		successes = append(successes, handle)
		mu.Unlock()
	}

	l1, err := NewBulkLoader(manager, LoaderConfig{
		Table:           "events",
		Columns:         []ColumnInfo{{Name: "id", Type: TypeBigInt}},
		MultiPartition:  true,
		ProcName:        "events.insert",
		TriggerSize:     10,
		FailureCallback: cb,
		SuccessCallback: scb,
	})
	require.NoError(t, err)
	defer l1.Close()

	l2, err := NewBulkLoader(manager, LoaderConfig{
		Table:           "events",
		Columns:         []ColumnInfo{{Name: "id", Type: TypeBigInt}},
		MultiPartition:  true,
		ProcName:        "events.insert",
		TriggerSize:     2,
		FailureCallback: cb,
	})
	require.NoError(t, err)
	defer l2.Close()

	// l1 alone would not flush at 10, but the shared shard's trigger is
	// now 2 (l2's smaller request), so two rows from l1 flush on their own.
	require.NoError(t, l1.Insert(1, []interface{}{int64(1)}))
	require.NoError(t, l1.Insert(2, []interface{}{int64(2)}))

	waitFor(t, time.Second, func() bool { return l1.Outstanding() == 0 })
	assert.Equal(t, 1, c.CallCount())
}
