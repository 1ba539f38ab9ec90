package ingest

// Row is a single record a caller has asked to be loaded into a
// table. It is immutable once constructed: Insert copies the caller's
// values slice so that the caller is free to reuse its own buffer
// across calls, matching how most bulk-load callers build one row
// object and mutate it in a tight loop.
type Row struct {
	// Handle is an opaque value the caller attached to this row so it
	// can correlate a later success or failure callback with its own
	// bookkeeping (a line number, an offset, a request ID, ...).
	Handle interface{}

	// Values holds one entry per column, in table column order,
	// untyped until the shard worker coerces them against the column's
	// declared type during drain.
	Values []interface{}

	loader *BulkLoader
}

func newRow(handle interface{}, values []interface{}, loader *BulkLoader) *Row {
	cp := make([]interface{}, len(values))
	copy(cp, values)
	return &Row{Handle: handle, Values: cp, loader: loader}
}
