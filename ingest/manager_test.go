package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardcore/bulkload/client"
)

// A shard is only shut down once every loader that acquired it has
// been closed; while a second loader is still open, the shard stays
// registered in the manager.
func TestIngestManager_SharesShardUntilLastLoaderCloses(t *testing.T) {
	c := newFakeClient(alwaysSucceed)
	manager := NewIngestManager(c)
	noop := func(interface{}, []interface{}, client.Response) {}

	cfg := LoaderConfig{
		Table:           "events",
		Columns:         []ColumnInfo{{Name: "id", Type: TypeBigInt}},
		MultiPartition:  true,
		ProcName:        "events.insert",
		TriggerSize:     1,
		FailureCallback: noop,
	}

	l1, err := NewBulkLoader(manager, cfg)
	require.NoError(t, err)
	l2, err := NewBulkLoader(manager, cfg)
	require.NoError(t, err)

	key := shardKey{table: "events", partitionID: mpPartitionID}

	manager.mu.Lock()
	_, stillThere := manager.shards[key]
	owners := len(manager.owners[manager.shards[key]])
	manager.mu.Unlock()
	assert.True(t, stillThere)
	assert.Equal(t, 2, owners)

	require.NoError(t, l1.Close())

	manager.mu.Lock()
	_, stillThere = manager.shards[key]
	manager.mu.Unlock()
	assert.True(t, stillThere, "shard must survive while l2 still owns it")

	require.NoError(t, l2.Close())

	manager.mu.Lock()
	_, stillThere = manager.shards[key]
	manager.mu.Unlock()
	assert.False(t, stillThere, "shard must be released once its last owner closes")
}

// NewBulkLoader rejects tables with no columns and out-of-range
// partition column indices.
func TestNewBulkLoader_ValidatesConfig(t *testing.T) {
	c := newFakeClient(alwaysSucceed)
	manager := NewIngestManager(c)
	noop := func(interface{}, []interface{}, client.Response) {}

	_, err := NewBulkLoader(manager, LoaderConfig{
		Table:           "events",
		FailureCallback: noop,
	})
	assert.ErrorIs(t, err, ErrNoColumns)

	_, err = NewBulkLoader(manager, LoaderConfig{
		Table:                "events",
		Columns:              []ColumnInfo{{Name: "id", Type: TypeBigInt}},
		PartitionColumnIndex: 5,
		FailureCallback:      noop,
	})
	assert.ErrorIs(t, err, ErrBadPartitionColumn)

	_, err = NewBulkLoader(manager, LoaderConfig{
		Table:   "events",
		Columns: []ColumnInfo{{Name: "id", Type: TypeBigInt}},
	})
	assert.Error(t, err)
}

// Insert returns ErrClosed once Close has begun.
func TestBulkLoader_RejectsInsertAfterClose(t *testing.T) {
	c := newFakeClient(alwaysSucceed)
	manager := NewIngestManager(c)
	l, err := NewBulkLoader(manager, LoaderConfig{
		Table:           "events",
		Columns:         []ColumnInfo{{Name: "id", Type: TypeBigInt}},
		MultiPartition:  true,
		ProcName:        "events.insert",
		TriggerSize:     1,
		FailureCallback: func(interface{}, []interface{}, client.Response) {},
	})
	require.NoError(t, err)

	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Insert(1, []interface{}{int64(1)}), ErrClosed)
}
