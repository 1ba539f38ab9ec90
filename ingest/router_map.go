package ingest

import "github.com/cespare/xxhash"

// HashPartitionMapper is the default PartitionMapper: it hashes the
// partition-key bytes with xxhash (the same hasher the teacher uses
// for fragment/shard key hashing) and reduces into [0, numPartitions).
// It has no notion of rebalancing a running cluster — that belongs to
// the real partition mapping service this interface stands in for.
type HashPartitionMapper struct{}

func (HashPartitionMapper) PartitionOf(keyBytes []byte, numPartitions int) int {
	if numPartitions <= 0 {
		return 0
	}
	h := xxhash.Sum64(keyBytes)
	return int(h % uint64(numPartitions))
}
