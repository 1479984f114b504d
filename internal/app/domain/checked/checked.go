// Package checked provides overflow-checked unsigned arithmetic for ticket
// counts and token amounts. Every money or ticket computation in the raffle
// goes through these helpers so adversarial inputs fail cleanly instead of
// wrapping.
package checked

import (
	"errors"
	"math/bits"
)

// ErrOverflow is returned when a result does not fit the operand type.
var ErrOverflow = errors.New("arithmetic overflow")

// Add64 returns a+b or ErrOverflow.
func Add64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub64 returns a-b or ErrOverflow on underflow.
func Sub64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

// Mul64 returns a*b or ErrOverflow.
func Mul64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// Add32 returns a+b or ErrOverflow.
func Add32(a, b uint32) (uint32, error) {
	sum := uint64(a) + uint64(b)
	if sum > uint64(^uint32(0)) {
		return 0, ErrOverflow
	}
	return uint32(sum), nil
}
