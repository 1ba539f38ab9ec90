package ingest

import "github.com/prometheus/client_golang/prometheus"

// shardMetrics are the per-shard counters named in SPEC_FULL.md's
// domain stack section. A handle is created for each shard (and each
// BulkLoader) with the table name as the only label value, so all
// partitions of a table share one time series rather than exploding
// label cardinality on partitions or row handles.
type shardMetrics struct {
	batchesSubmitted prometheus.Counter
	batchSuccesses   prometheus.Counter
	batchFailures    prometheus.Counter
	rowsResubmitted  prometheus.Counter
	reconnectParks   prometheus.Counter
	outstandingRows  prometheus.Gauge
}

// managerMetrics is the factory all shards under one IngestManager
// register through, keyed by table so re-acquiring a shard for the
// same table reuses the same series instead of re-registering it.
type managerMetrics struct {
	batchesSubmitted *prometheus.CounterVec
	batchSuccesses   *prometheus.CounterVec
	batchFailures    *prometheus.CounterVec
	rowsResubmitted  *prometheus.CounterVec
	reconnectParks   *prometheus.CounterVec
	outstandingRows  *prometheus.GaugeVec
}

func newManagerMetrics(reg prometheus.Registerer) *managerMetrics {
	m := &managerMetrics{
		batchesSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkload",
			Name:      "batches_submitted_total",
			Help:      "Stored-procedure batch calls submitted, per table.",
		}, []string{"table"}),
		batchSuccesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkload",
			Name:      "batch_successes_total",
			Help:      "Batch calls that returned success, per table.",
		}, []string{"table"}),
		batchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkload",
			Name:      "batch_failures_total",
			Help:      "Batch calls that returned a non-success status and fell back to row-by-row resubmission, per table.",
		}, []string{"table"}),
		rowsResubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkload",
			Name:      "rows_resubmitted_total",
			Help:      "Individual rows resubmitted after a batch failure or a connection-lost retry, per table.",
		}, []string{"table"}),
		reconnectParks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkload",
			Name:      "reconnect_parks_total",
			Help:      "Times a shard worker parked waiting for the client to reconnect, per table.",
		}, []string{"table"}),
		outstandingRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bulkload",
			Name:      "outstanding_rows",
			Help:      "Rows inserted but not yet completed or failed, per table.",
		}, []string{"table"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.batchesSubmitted, m.batchSuccesses, m.batchFailures,
			m.rowsResubmitted, m.reconnectParks, m.outstandingRows,
		)
	}
	return m
}

func (m *managerMetrics) forTable(table string) *shardMetrics {
	return &shardMetrics{
		batchesSubmitted: m.batchesSubmitted.WithLabelValues(table),
		batchSuccesses:   m.batchSuccesses.WithLabelValues(table),
		batchFailures:    m.batchFailures.WithLabelValues(table),
		rowsResubmitted:  m.rowsResubmitted.WithLabelValues(table),
		reconnectParks:   m.reconnectParks.WithLabelValues(table),
		outstandingRows:  m.outstandingRows.WithLabelValues(table),
	}
}
