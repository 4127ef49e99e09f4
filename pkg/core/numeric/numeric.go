// Package numeric provides checked unsigned 64-bit arithmetic for balance,
// price and fee computation. Every operation that could wrap returns
// ErrOverflow instead of wrapping silently.
package numeric

import (
	"errors"
	"math/bits"
)

var ErrOverflow = errors.New("arithmetic overflow")

// BpsDenominator is the basis-point scale: 10000 bps = 100%.
const BpsDenominator = 10000

// CheckedAdd returns a+b, or ErrOverflow if the sum wraps.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b, or ErrOverflow if b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

// CheckedMul returns a*b, or ErrOverflow if the product exceeds 64 bits.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// FeeBps computes amount * bps / 10000 with checked multiplication.
// Integer division truncates toward zero, so fractional fee units are
// under-collected, never over-collected.
func FeeBps(amount uint64, bps uint16) (uint64, error) {
	scaled, err := CheckedMul(amount, uint64(bps))
	if err != nil {
		return 0, err
	}
	return scaled / BpsDenominator, nil
}
