// Package safecast provides overflow-checked integer conversions for
// timestamps, counters, and lengths that cross the uint64/int64/int
// boundaries that the wire format, the standard library's time package,
// and Go's slice indexing each prefer.
package safecast

import (
	"fmt"
	"math"
)

// Int64ToUint64 converts a non-negative int64 to uint64, erroring on
// negative input instead of silently wrapping.
func Int64ToUint64(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("safecast: cannot convert negative int64 %d to uint64", v)
	}
	return uint64(v), nil
}

// Uint64ToInt64 converts a uint64 to int64, erroring if the value would
// overflow int64's range.
func Uint64ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("safecast: uint64 value %d exceeds int64 max %d", v, int64(math.MaxInt64))
	}
	return int64(v), nil
}

// Uint64ToInt converts a uint64 to int, erroring if it would overflow the
// platform's int range (relevant on 32-bit builds).
func Uint64ToInt(v uint64) (int, error) {
	if v > math.MaxInt {
		return 0, fmt.Errorf("safecast: uint64 value %d exceeds int max", v)
	}
	return int(v), nil
}
