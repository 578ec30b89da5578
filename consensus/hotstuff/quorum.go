// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import (
	"github.com/holiman/uint256"

	"github.com/luxfi/asf/utils/math"
)

// Threshold returns the validator-count quorum floor(2n/3)+1.
func Threshold(committeeSize uint64) uint64 {
	return math.BFTThreshold(committeeSize)
}

// StakeThreshold returns the stake quorum floor(2*total/3)+1. The product is
// computed in 256 bits so large stakes cannot overflow.
func StakeThreshold(totalStake uint64) uint64 {
	v := uint256.NewInt(totalStake)
	v.Mul(v, uint256.NewInt(2))
	v.Div(v, uint256.NewInt(3))
	v.AddUint64(v, 1)
	return v.Uint64()
}

// MeetsQuorum reports whether count validators form a quorum of committeeSize.
func MeetsQuorum(count, committeeSize uint64) bool {
	return count >= Threshold(committeeSize)
}

// MeetsStakeQuorum reports whether stake forms a stake quorum of totalStake.
func MeetsStakeQuorum(stake, totalStake uint64) bool {
	return stake >= StakeThreshold(totalStake)
}
