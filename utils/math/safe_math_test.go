// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package math

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdd(t *testing.T) {
	require := require.New(t)

	sum, err := Add[uint64](1, 2)
	require.NoError(err)
	require.Equal(uint64(3), sum)

	_, err = Add[uint64](math.MaxUint64, 1)
	require.ErrorIs(err, ErrOverflow)
}

func TestSub(t *testing.T) {
	require := require.New(t)

	diff, err := Sub[uint64](5, 2)
	require.NoError(err)
	require.Equal(uint64(3), diff)

	_, err = Sub[uint64](2, 5)
	require.ErrorIs(err, ErrUnderflow)
}

func TestMul(t *testing.T) {
	require := require.New(t)

	prod, err := Mul[uint64](6, 7)
	require.NoError(err)
	require.Equal(uint64(42), prod)

	_, err = Mul[uint64](math.MaxUint64, 2)
	require.ErrorIs(err, ErrOverflow)
}

func TestSum(t *testing.T) {
	require := require.New(t)

	total, err := Sum[uint64](1, 2, 3, 4)
	require.NoError(err)
	require.Equal(uint64(10), total)

	_, err = Sum[uint64](math.MaxUint64, 1)
	require.ErrorIs(err, ErrOverflow)
}

func TestThresholds(t *testing.T) {
	tests := []struct {
		n         uint64
		bft       uint64
		faulty    uint64
		byzantine uint64
	}{
		{n: 1, bft: 1, faulty: 0, byzantine: 1},
		{n: 3, bft: 3, faulty: 0, byzantine: 1},
		{n: 4, bft: 3, faulty: 1, byzantine: 2},
		{n: 7, bft: 5, faulty: 2, byzantine: 3},
		{n: 21, bft: 15, faulty: 6, byzantine: 7},
		{n: 100, bft: 67, faulty: 33, byzantine: 34},
	}
	for _, tt := range tests {
		require.Equal(t, tt.bft, BFTThreshold(tt.n), "bft n=%d", tt.n)
		require.Equal(t, tt.faulty, MaxFaulty(tt.n), "faulty n=%d", tt.n)
		require.Equal(t, tt.byzantine, ByzantineThreshold(tt.n), "byzantine n=%d", tt.n)
	}
}

func TestCeilDiv(t *testing.T) {
	require := require.New(t)

	require.Zero(CeilDiv[uint64](0, 3))
	require.Equal(uint64(1), CeilDiv[uint64](1, 3))
	require.Equal(uint64(1), CeilDiv[uint64](3, 3))
	require.Equal(uint64(2), CeilDiv[uint64](4, 3))
}

func TestAbsDiff(t *testing.T) {
	require.Equal(t, uint64(3), AbsDiff[uint64](2, 5))
	require.Equal(t, uint64(3), AbsDiff[uint64](5, 2))
}
