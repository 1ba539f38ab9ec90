package ingest

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// ColumnType is the declared type of one column in the target table,
// used both for parameter coercion (spec ErrParameterType) and for
// serializing the partition column's value into the routing parameter
// bytes a single-partition procedure call requires.
type ColumnType int

const (
	TypeBigInt ColumnType = iota
	TypeInt
	TypeFloat
	TypeString
	TypeBytes
)

func (t ColumnType) String() string {
	switch t {
	case TypeBigInt:
		return "BIGINT"
	case TypeInt:
		return "INT"
	case TypeFloat:
		return "FLOAT"
	case TypeString:
		return "STRING"
	case TypeBytes:
		return "BYTES"
	default:
		return "UNKNOWN"
	}
}

// ColumnInfo describes one column of the target table: its name (used
// only for error messages — the batch format is positional) and its
// declared type.
type ColumnInfo struct {
	Name string
	Type ColumnType
}

// coerce converts an untyped row value to the Go type that t requires,
// using the same permissive conversion rules a stored-procedure
// parameter binder would: numeric widening/narrowing and numeric
// strings are accepted, nil passes through untouched.
func coerce(v interface{}, t ColumnType) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeBigInt, TypeInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, errors.Errorf("value %v is not an integer", v)
			}
			return int64(n), nil
		case string:
			parsed, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %q as integer", n)
			}
			return parsed, nil
		default:
			return nil, errors.Errorf("cannot coerce %T to %s", v, t)
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		case string:
			parsed, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %q as float", n)
			}
			return parsed, nil
		default:
			return nil, errors.Errorf("cannot coerce %T to %s", v, t)
		}
	case TypeString:
		switch n := v.(type) {
		case string:
			return n, nil
		case fmt.Stringer:
			return n.String(), nil
		default:
			return fmt.Sprintf("%v", n), nil
		}
	case TypeBytes:
		switch n := v.(type) {
		case []byte:
			return n, nil
		case string:
			return []byte(n), nil
		default:
			return nil, errors.Errorf("cannot coerce %T to %s", v, t)
		}
	default:
		return nil, errors.Errorf("unknown column type %v", t)
	}
}

// coerceRowValues coerces every value in a row against the target
// table's column list, positionally. The first coercion failure aborts
// the row and is returned wrapped with the offending column's name.
func coerceRowValues(values []interface{}, columns []ColumnInfo) ([]interface{}, error) {
	out := make([]interface{}, len(columns))
	for i, col := range columns {
		v, err := coerce(values[i], col.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", col.Name)
		}
		out[i] = v
	}
	return out, nil
}

// valueToBytes serializes an already-coerced partition-column value
// into the byte form the database's standard value-to-bytes rule
// would produce: big-endian for fixed-width numerics, raw bytes for
// strings. This is what both the routing parameter (spec §4.2 step 4)
// and the default PartitionMapper (router_map.go) consume.
func valueToBytes(v interface{}, t ColumnType) ([]byte, error) {
	if v == nil {
		return nil, errors.New("cannot route a nil partition key")
	}
	switch t {
	case TypeBigInt, TypeInt:
		n, ok := v.(int64)
		if !ok {
			return nil, errors.Errorf("expected int64 for %s, got %T", t, v)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))
		return buf, nil
	case TypeFloat:
		f, ok := v.(float64)
		if !ok {
			return nil, errors.Errorf("expected float64 for %s, got %T", t, v)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(f))
		return buf, nil
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("expected string for %s, got %T", t, v)
		}
		return []byte(s), nil
	case TypeBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, errors.Errorf("expected []byte for %s, got %T", t, v)
		}
		return b, nil
	default:
		return nil, errors.Errorf("unknown column type %v", t)
	}
}
