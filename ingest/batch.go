package ingest

// Batch is the ephemeral, wire-format table of coerced row values
// submitted to the database client for a single procedure call (spec
// §3 "Batch (ephemeral)", §6 "Batch record format"). Each PartitionShard
// owns exactly one Batch as its reusable buffer: it is mutated only by
// the shard's worker goroutine, and only cleared after a submit has
// either succeeded or been turned into a synthesized failure — never
// while a submit attempt is being retried after connection loss.
type Batch struct {
	Columns []ColumnInfo
	Values  [][]interface{}
}

func newBatch(columns []ColumnInfo) *Batch {
	return &Batch{Columns: columns}
}

func (b *Batch) addRow(values []interface{}) {
	b.Values = append(b.Values, values)
}

// Len reports how many rows are currently buffered.
func (b *Batch) Len() int { return len(b.Values) }

func (b *Batch) reset() {
	b.Values = b.Values[:0]
}
