// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package math

import (
	"errors"
)

// Unsigned is a constraint that permits any unsigned integer type.
type Unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

var (
	ErrOverflow  = errors.New("overflow")
	ErrUnderflow = errors.New("underflow")
)

// MaxUint returns the maximum value of an unsigned integer of type T.
func MaxUint[T Unsigned]() T {
	return ^T(0)
}

// Add returns:
// 1) a + b
// 2) If there is overflow, an error
func Add[T Unsigned](a, b T) (T, error) {
	if a > MaxUint[T]()-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub returns:
// 1) a - b
// 2) If there is underflow, an error
func Sub[T Unsigned](a, b T) (T, error) {
	if a < b {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// Mul returns:
// 1) a * b
// 2) If there is overflow, an error
func Mul[T Unsigned](a, b T) (T, error) {
	if b != 0 && a > MaxUint[T]()/b {
		return 0, ErrOverflow
	}
	return a * b, nil
}

// Sum adds all values, failing on the first overflow.
func Sum[T Unsigned](values ...T) (T, error) {
	var total T
	for _, v := range values {
		var err error
		total, err = Add(total, v)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// CeilDiv returns ceil(a / b). b must be non-zero.
func CeilDiv[T Unsigned](a, b T) T {
	if a == 0 {
		return 0
	}
	return (a-1)/b + 1
}

// BFTThreshold returns the validator-count quorum floor(2n/3)+1.
func BFTThreshold(n uint64) uint64 {
	return n*2/3 + 1
}

// MaxFaulty returns the number of Byzantine validators a committee of n
// tolerates, floor((n-1)/3).
func MaxFaulty(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return (n - 1) / 3
}

// ByzantineThreshold returns ceil(n/3), the number of misbehaving
// validators at which safety of a committee of n is at risk.
func ByzantineThreshold(n uint64) uint64 {
	return CeilDiv(n, 3)
}

func AbsDiff[T Unsigned](a, b T) T {
	return max(a, b) - min(a, b)
}
