package ingest

// PartitionRouter resolves a row to the PartitionShard it belongs to
// (spec §4.1). For a multi-partition table every row goes to the same
// shared MP shard; for a partitioned table the row's partition-column
// value is coerced, hashed through a PartitionMapper, and resolved to
// a shard via the IngestManager.
type PartitionRouter struct {
	manager *IngestManager
	mapper  PartitionMapper
}

func newPartitionRouter(manager *IngestManager, mapper PartitionMapper) *PartitionRouter {
	if mapper == nil {
		mapper = HashPartitionMapper{}
	}
	return &PartitionRouter{manager: manager, mapper: mapper}
}

// route returns the shard a row should be enqueued on. If the
// partition key fails to coerce, it returns ErrInvalidPartitionKey and
// a nil shard; the caller must report the row as failed without ever
// enqueuing it (it is never counted as outstanding).
func (r *PartitionRouter) route(loader *BulkLoader, values []interface{}) (*PartitionShard, error) {
	if loader.isMP {
		return r.manager.mpShard(loader)
	}

	raw := values[loader.partitionColumnIndex]
	coerced, err := coerce(raw, loader.partitionColumnType)
	if err != nil {
		return nil, ErrInvalidPartitionKey
	}
	keyBytes, err := valueToBytes(coerced, loader.partitionColumnType)
	if err != nil {
		return nil, ErrInvalidPartitionKey
	}

	partitionID := r.mapper.PartitionOf(keyBytes, loader.partitions)
	return r.manager.shardForPartition(loader, partitionID)
}
