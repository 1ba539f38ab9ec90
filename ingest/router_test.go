package ingest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardcore/bulkload/client"
)

// A row whose partition-column value can't be coerced is reported to
// FailureCallback immediately and never reaches a shard.
func TestBulkLoader_InvalidPartitionKeyNeverEnqueued(t *testing.T) {
	var mu sync.Mutex
	var failures []interface{}

	c := newFakeClient(alwaysSucceed)
	manager := NewIngestManager(c)
	l, err := NewBulkLoader(manager, LoaderConfig{
		Table:                "events",
		Columns:              []ColumnInfo{{Name: "id", Type: TypeBigInt}, {Name: "payload", Type: TypeString}},
		PartitionColumnIndex: 0,
		Partitions:           4,
		ProcName:             "events.insert",
		TriggerSize:          1,
		FailureCallback: func(handle interface{}, values []interface{}, resp client.Response) {
			mu.Lock()
			failures = append(failures, handle)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Insert(1, []interface{}{"not-a-bigint", "payload"}))

	mu.Lock()
	assert.Equal(t, []interface{}{1}, failures)
	mu.Unlock()
	assert.EqualValues(t, 0, l.Outstanding())
	assert.EqualValues(t, 0, l.Failed())
	assert.Equal(t, 0, c.CallCount())
}

// Routing the same partition key twice resolves to the same shard.
func TestPartitionRouter_RoutesConsistently(t *testing.T) {
	c := newFakeClient(alwaysSucceed)
	manager := NewIngestManager(c)
	l, err := NewBulkLoader(manager, LoaderConfig{
		Table:                "events",
		Columns:              []ColumnInfo{{Name: "id", Type: TypeBigInt}},
		PartitionColumnIndex: 0,
		Partitions:           4,
		ProcName:             "events.insert",
		TriggerSize:          1,
		FailureCallback:      func(interface{}, []interface{}, client.Response) {},
	})
	require.NoError(t, err)
	defer l.Close()

	s1, err := l.router.route(l, []interface{}{int64(42)})
	require.NoError(t, err)
	s2, err := l.router.route(l, []interface{}{int64(42)})
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}
