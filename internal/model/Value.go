package model

import (
	"reflect"
	"time"
)

// ValuesEqual implements the change filter's comparison: scalar equality for
// primitives and deep equality for structures. Integer pairs compare exactly
// at full 64-bit width, so large int64/uint64 values never collide; a mixed
// integer/float pair compares by magnitude, so a driver's int and the
// store's float compare equal.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	aNeg, aMag, aInt := intParts(a)
	bNeg, bMag, bInt := intParts(b)
	if aInt && bInt {
		return aNeg == bNeg && aMag == bMag
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	if _, bok := asFloat(b); bok {
		return false
	}
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			return at.Equal(bt)
		}
		return false
	}
	switch a.(type) {
	case bool, string:
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// intParts decomposes an integer of any width into sign and magnitude for an
// exact comparison.
func intParts(v any) (neg bool, mag uint64, ok bool) {
	var n int64
	switch i := v.(type) {
	case int:
		n = int64(i)
	case int8:
		n = int64(i)
	case int16:
		n = int64(i)
	case int32:
		n = int64(i)
	case int64:
		n = i
	case uint:
		return false, uint64(i), true
	case uint8:
		return false, uint64(i), true
	case uint16:
		return false, uint64(i), true
	case uint32:
		return false, uint64(i), true
	case uint64:
		return false, i, true
	default:
		return false, 0, false
	}
	if n < 0 {
		// Negate via the complement so MinInt64 does not overflow.
		return true, uint64(-(n + 1)) + 1, true
	}
	return false, uint64(n), true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
