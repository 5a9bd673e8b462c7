package safe

import (
	"math"
)

// Uint64ToInt64 safely converts an uint64 value to int64, clamping to math.MaxInt64 if overflow
// would occur.
// Returns the converted value and a boolean indicating whether clamping occurred.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}

// AddUint64 returns a+b and reports whether the sum wrapped around.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum < a
}

// MulUint64 returns a*b and reports whether the product overflowed.
func MulUint64(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	p := a * b
	return p, p/b != a
}

// Within reports whether the span [off, off+n) lies inside [0, limit).
// A zero-length span is within the limit when off <= limit.
func Within(off, n, limit uint64) bool {
	end, overflow := AddUint64(off, n)
	if overflow {
		return false
	}
	return end <= limit
}

// AlignUp rounds v up to the next multiple of align, which must be a power of two.
// The second result is true when rounding would overflow.
func AlignUp(v, align uint64) (uint64, bool) {
	mask := align - 1
	sum, overflow := AddUint64(v, mask)
	if overflow {
		return 0, true
	}
	return sum &^ mask, false
}
