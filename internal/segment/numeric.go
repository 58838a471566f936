package segment

import (
	"encoding/binary"
	"math"
)

// EncodeNumeric converts a float64 into an 8-byte, byte-order-sortable term
// so numeric fields can ride the same FST term dictionary as text fields and
// still support ordered range scans (spec §4.9 NumericRangeQuery). This is
// the classic IEEE-754 sign-flip trick: for non-negative values set the sign
// bit (pushing them above all negatives), for negative values flip every bit
// (reversing their order so more-negative sorts lower).
func EncodeNumeric(v float64) string {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bits)
	return string(buf[:])
}

// DecodeNumeric reverses EncodeNumeric.
func DecodeNumeric(term string) float64 {
	bits := binary.BigEndian.Uint64([]byte(term))
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

// ToNumeric reports whether v is one of the numeric Go types a Document
// field may hold, returning its float64 value.
func ToNumeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
