package deltanet

import (
	"math"
	"math/bits"
)

// wide is a 128-bit two's complement integer. Component accumulators need
// more than 64 bits: a jump from MinInt64 to MaxInt64 is 2^64-1.
type wide struct {
	hi int64
	lo uint64
}

func wideOf(v int64) wide {
	return wide{hi: v >> 63, lo: uint64(v)}
}

func (a wide) add(b wide) wide {
	lo, carry := bits.Add64(a.lo, b.lo, 0)
	return wide{hi: a.hi + b.hi + int64(carry), lo: lo}
}

func (a wide) sub(b wide) wide {
	lo, borrow := bits.Sub64(a.lo, b.lo, 0)
	return wide{hi: a.hi - b.hi - int64(borrow), lo: lo}
}

func (a wide) isZero() bool {
	return a.hi == 0 && a.lo == 0
}

// clamp saturates a to the int64 range.
func (a wide) clamp() int64 {
	switch {
	case a.hi == 0 && a.lo <= math.MaxInt64:
		return int64(a.lo)
	case a.hi == -1 && a.lo > math.MaxInt64:
		return int64(a.lo)
	case a.hi < 0:
		return math.MinInt64
	default:
		return math.MaxInt64
	}
}

// clampSum returns a+b saturated to the int64 range.
func clampSum(a, b int64) int64 {
	return wideOf(a).add(wideOf(b)).clamp()
}

// clampDiff returns a-b saturated to the int64 range.
func clampDiff(a, b int64) int64 {
	return wideOf(a).sub(wideOf(b)).clamp()
}
