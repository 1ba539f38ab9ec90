package ingest

import "github.com/pkg/errors"

// Sentinel errors for the ingest taxonomy. Recoverable classes
// (ParameterTypeError, BatchRejected, transient ConnectionLost) are
// handled inside the shard and never returned to a caller. ErrClosed,
// ErrNoColumns and ErrBadPartitionColumn are returned synchronously
// from the public API; ErrInvalidPartitionKey and ErrParameterType only
// appear in the Message of a failure callback's response.
var (
	// ErrClosed is returned by Insert once Close has begun on a loader. The source's behavior when new inserts race
	// with shutdown is ambiguous; this package resolves it by rejecting
	// new work outright.
	ErrClosed = errors.New("bulkloader: loader is closed")

	// ErrInvalidPartitionKey is reported to a row's failure callback —
	// never returned from Insert — when the partition-column value
	// can't be coerced to the column's declared type before routing.
	ErrInvalidPartitionKey = errors.New("bulkloader: row's partition key does not match the partition column's type")

	// ErrParameterType is reported to a row's failure callback (as the
	// prefix of the response Message, followed by the coercion error)
	// when a column value can't be coerced to its declared type during
	// drain.
	ErrParameterType = errors.New("bulkloader: row value does not match its column's declared type")

	// ErrNoColumns is returned by NewBulkLoader when the caller supplies
	// zero column descriptors.
	ErrNoColumns = errors.New("bulkloader: table must have at least one column")

	// ErrBadPartitionColumn is returned by NewBulkLoader when the
	// partition column index is out of range for a partitioned table.
	ErrBadPartitionColumn = errors.New("bulkloader: partition column index out of range")
)
