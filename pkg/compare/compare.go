// Package compare implements the Value Comparator: type-aware ordering and
// equality of column values pulled from two otherwise schema-identical
// cursors, including binary blobs and nulls.
package compare

import (
	"bytes"
	"fmt"

	"github.com/go-mysql-org/go-mysql/mysql"
)

// Value is a tagged column value: the SQL type code it was read as (using
// the go-mysql-org field-type constants, the same tag space the Dialect
// resolves columns into), the deserialized Go value, and whether the
// source reported it as NULL. This replaces the dynamic type erasure the
// original relies on — every value the merge loop touches carries its own
// type rather than being compared by reflection.
type Value struct {
	Type   byte
	Raw    any
	IsNull bool
}

// NewNull returns a typed NULL value. The merge loop never calls Order or
// Equal with one of these; callers branch on IsNull first.
func NewNull(t byte) Value {
	return Value{Type: t, IsNull: true}
}

// Order returns -1, 0 or 1 comparing two primary-key values under a total
// order. It is a narrow comparator by design (Design Notes: "reject
// unsupported types explicitly" rather than falling back to
// reflect.DeepEqual) — a PK column of a type this function does not
// recognize is a configuration error, not something to paper over.
func Order(a, b Value) (int, error) {
	if a.IsNull || b.IsNull {
		return 0, fmt.Errorf("compare: order is undefined over a null primary-key value")
	}
	switch av := a.Raw.(type) {
	case int64:
		bv, err := asInt64(b)
		if err != nil {
			return 0, err
		}
		return orderInt64(av, bv), nil
	case uint64:
		bv, err := asUint64(b)
		if err != nil {
			return 0, err
		}
		return orderUint64(av, bv), nil
	case float64:
		bv, ok := b.Raw.(float64)
		if !ok {
			return 0, fmt.Errorf("compare: order: mismatched operand kinds %T vs %T", a.Raw, b.Raw)
		}
		return orderFloat64(av, bv), nil
	case string:
		bv, ok := b.Raw.(string)
		if !ok {
			return 0, fmt.Errorf("compare: order: mismatched operand kinds %T vs %T", a.Raw, b.Raw)
		}
		return orderString(av, bv), nil
	case []byte:
		bv, ok := b.Raw.([]byte)
		if !ok {
			return 0, fmt.Errorf("compare: order: mismatched operand kinds %T vs %T", a.Raw, b.Raw)
		}
		return bytes.Compare(av, bv), nil
	default:
		return 0, fmt.Errorf("compare: order: unsupported primary-key value type %T", a.Raw)
	}
}

// Equal reports whether two non-null value-column values are equal. Byte
// arrays are compared by length and content (blob arm, spec §4.1); every
// other type delegates to the deserialized value's own equality.
// The caller (C4) never calls Equal with a null operand on either side —
// null-state is always checked first, outside the comparator.
func Equal(a, b Value) (bool, error) {
	if a.IsNull || b.IsNull {
		return false, fmt.Errorf("compare: equal is undefined over a null operand; caller must branch on IsNull first")
	}
	switch av := a.Raw.(type) {
	case []byte:
		bv, ok := b.Raw.([]byte)
		if !ok {
			return false, fmt.Errorf("compare: equal: mismatched operand kinds %T vs %T", a.Raw, b.Raw)
		}
		return bytes.Equal(av, bv), nil
	case int64:
		bv, err := asInt64(b)
		if err != nil {
			return false, err
		}
		return av == bv, nil
	case uint64:
		bv, err := asUint64(b)
		if err != nil {
			return false, err
		}
		return av == bv, nil
	case float64:
		bv, ok := b.Raw.(float64)
		if !ok {
			return false, fmt.Errorf("compare: equal: mismatched operand kinds %T vs %T", a.Raw, b.Raw)
		}
		return av == bv, nil
	case string:
		bv, ok := b.Raw.(string)
		if !ok {
			return false, fmt.Errorf("compare: equal: mismatched operand kinds %T vs %T", a.Raw, b.Raw)
		}
		return av == bv, nil
	case bool:
		bv, ok := b.Raw.(bool)
		if !ok {
			return false, fmt.Errorf("compare: equal: mismatched operand kinds %T vs %T", a.Raw, b.Raw)
		}
		return av == bv, nil
	default:
		return false, fmt.Errorf("compare: equal: unsupported value type %T", a.Raw)
	}
}

func asInt64(v Value) (int64, error) {
	switch n := v.Raw.(type) {
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("compare: expected int64-comparable value, got %T", v.Raw)
	}
}

func asUint64(v Value) (uint64, error) {
	switch n := v.Raw.(type) {
	case uint64:
		return n, nil
	default:
		return 0, fmt.Errorf("compare: expected uint64-comparable value, got %T", v.Raw)
	}
}

func orderInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func orderUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func orderFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func orderString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// IsIntegral reports whether t is one of the integer field types, used by
// callers deciding whether to scan a column into int64/uint64 vs. string.
func IsIntegral(t byte) bool {
	switch t {
	case mysql.MYSQL_TYPE_TINY, mysql.MYSQL_TYPE_SHORT, mysql.MYSQL_TYPE_INT24,
		mysql.MYSQL_TYPE_LONG, mysql.MYSQL_TYPE_LONGLONG, mysql.MYSQL_TYPE_YEAR:
		return true
	default:
		return false
	}
}

// IsBinary reports whether t is a type whose comparator arm is the
// byte-array equality rule (spec §4.1's "if both are byte arrays").
func IsBinary(t byte) bool {
	switch t {
	case mysql.MYSQL_TYPE_TINY_BLOB, mysql.MYSQL_TYPE_MEDIUM_BLOB,
		mysql.MYSQL_TYPE_LONG_BLOB, mysql.MYSQL_TYPE_BLOB,
		mysql.MYSQL_TYPE_GEOMETRY:
		return true
	default:
		return false
	}
}

// IsFloat reports whether t is a floating-point or decimal field type.
// Its text-protocol []byte representation ("10.20") does not sort the
// same lexically as it does numerically (e.g. "10.2" < "9.5" as bytes),
// so callers scanning a column of this type must parse it to float64
// before comparing, the same way they must for IsIntegral columns.
func IsFloat(t byte) bool {
	switch t {
	case mysql.MYSQL_TYPE_FLOAT, mysql.MYSQL_TYPE_DOUBLE,
		mysql.MYSQL_TYPE_NEWDECIMAL, mysql.MYSQL_TYPE_DECIMAL:
		return true
	default:
		return false
	}
}
