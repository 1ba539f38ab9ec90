package ingest

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shardcore/bulkload/client"
	"github.com/shardcore/bulkload/logger"
)

// ManagerOption configures an IngestManager at construction, following
// the functional-options pattern.
type ManagerOption func(*IngestManager)

// WithAutoReconnect enables the park-and-retry behavior described in
// spec §4.6/§5: when the database client reports connection loss, a
// shard worker parks instead of failing the batch outright, and wakes
// once NotifyReconnected is called.
func WithAutoReconnect(enabled bool) ManagerOption {
	return func(m *IngestManager) { m.autoReconnect = enabled }
}

// WithPartitionMapper overrides the default xxhash-based PartitionMapper.
func WithPartitionMapper(mapper PartitionMapper) ManagerOption {
	return func(m *IngestManager) { m.mapper = mapper }
}

// WithLogger overrides the no-op default logger.
func WithLogger(log logger.Logger) ManagerOption {
	return func(m *IngestManager) { m.log = log }
}

// WithRegisterer supplies the Prometheus registerer shard and manager
// metrics register against. A nil registerer (the default) disables
// registration entirely, which is what package tests want.
func WithRegisterer(reg prometheus.Registerer) ManagerOption {
	return func(m *IngestManager) { m.registerer = reg }
}

// IngestManager is the process-wide registry of partition shards (spec
// §2.5, §4.6): every BulkLoader for the same table shares the same set
// of PartitionShards through this type, so two producers loading the
// same table share backpressure and trigger-size behavior rather than
// fighting over independent queues.
type IngestManager struct {
	client        client.ProcedureClient
	log           logger.Logger
	autoReconnect bool
	mapper        PartitionMapper
	registerer    prometheus.Registerer
	metrics       *managerMetrics

	mu     sync.Mutex
	shards map[shardKey]*PartitionShard
	owners map[*PartitionShard]map[*BulkLoader]struct{}
}

// NewIngestManager creates a manager bound to a single database
// connection. c must be safe for concurrent use: multiple shards, and
// multiple row-by-row resubmissions within one shard, may call it at
// once.
func NewIngestManager(c client.ProcedureClient, opts ...ManagerOption) *IngestManager {
	m := &IngestManager{
		client: c,
		log:    logger.NopLogger,
		mapper: HashPartitionMapper{},
		shards: make(map[shardKey]*PartitionShard),
		owners: make(map[*PartitionShard]map[*BulkLoader]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics = newManagerMetrics(m.registerer)
	return m
}

// acquireShards finds-or-creates every shard loader's table requires
// and registers loader as an owner of each. Called once, from
// NewBulkLoader.
func (m *IngestManager) acquireShards(loader *BulkLoader) ([]*PartitionShard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var shards []*PartitionShard
	if loader.isMP {
		key := shardKey{table: loader.table, partitionID: mpPartitionID}
		s := m.getOrCreateShardLocked(key, loader, true)
		m.addOwnerLocked(s, loader)
		shards = append(shards, s)
		return shards, nil
	}

	for p := 0; p < loader.partitions; p++ {
		key := shardKey{table: loader.table, partitionID: p}
		s := m.getOrCreateShardLocked(key, loader, false)
		m.addOwnerLocked(s, loader)
		shards = append(shards, s)
	}
	return shards, nil
}

func (m *IngestManager) getOrCreateShardLocked(key shardKey, firstLoader *BulkLoader, isMP bool) *PartitionShard {
	if s, ok := m.shards[key]; ok {
		s.updateTriggerSize(firstLoader.triggerSize)
		return s
	}
	s := newPartitionShard(key, isMP, firstLoader, m.client, m.autoReconnect, m.log, m.metrics.forTable(firstLoader.table))
	m.shards[key] = s
	m.owners[s] = make(map[*BulkLoader]struct{})
	return s
}

func (m *IngestManager) addOwnerLocked(s *PartitionShard, loader *BulkLoader) {
	m.owners[s][loader] = struct{}{}
}

// releaseShards removes loader from every shard it owns, shutting down
// and discarding any shard that no longer has an owner.
func (m *IngestManager) releaseShards(loader *BulkLoader) error {
	m.mu.Lock()
	toShutdown := make([]*PartitionShard, 0)
	for _, s := range loader.shards {
		owners, ok := m.owners[s]
		if !ok {
			continue
		}
		delete(owners, loader)
		if len(owners) == 0 {
			delete(m.owners, s)
			delete(m.shards, s.key)
			toShutdown = append(toShutdown, s)
		}
	}
	m.mu.Unlock()

	for _, s := range toShutdown {
		s.shutdown()
	}
	return nil
}

// NotifyReconnected wakes every shard parked waiting for the database
// client to reconnect. Call this once the client reports it's healthy
// again — see the reconnect package for the polling watcher that does
// this automatically.
func (m *IngestManager) NotifyReconnected() {
	m.mu.Lock()
	shards := make([]*PartitionShard, 0, len(m.shards))
	for _, s := range m.shards {
		shards = append(shards, s)
	}
	m.mu.Unlock()

	for _, s := range shards {
		s.wake()
	}
}

func (m *IngestManager) mpShard(loader *BulkLoader) (*PartitionShard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shards[shardKey{table: loader.table, partitionID: mpPartitionID}]
	if !ok {
		return nil, errors.Errorf("bulkloader: no MP shard registered for table %q", loader.table)
	}
	return s, nil
}

func (m *IngestManager) shardForPartition(loader *BulkLoader, partitionID int) (*PartitionShard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shards[shardKey{table: loader.table, partitionID: partitionID}]
	if !ok {
		return nil, errors.Errorf("bulkloader: no shard registered for table %q partition %d", loader.table, partitionID)
	}
	return s, nil
}
