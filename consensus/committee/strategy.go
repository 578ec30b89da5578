// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package committee

import (
	"fmt"

	"github.com/holiman/uint256"
)

// SelectionStrategy scores validators for committee selection. Every node of
// an epoch must use the same strategy.
type SelectionStrategy uint8

const (
	StakeWeighted SelectionStrategy = iota
	ReputationWeighted
	Hybrid
)

func (s SelectionStrategy) String() string {
	switch s {
	case StakeWeighted:
		return "stake-weighted"
	case ReputationWeighted:
		return "reputation-weighted"
	case Hybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

func (s SelectionStrategy) Valid() bool {
	return s <= Hybrid
}

// Score returns the selection score of v.
//
//	StakeWeighted:      stake
//	ReputationWeighted: stake * reputation / 100
//	Hybrid:             stake + stake * reputation / 1000
func (s SelectionStrategy) Score(v ValidatorInfo) *uint256.Int {
	stake := uint256.NewInt(v.Stake)
	switch s {
	case ReputationWeighted:
		score := new(uint256.Int).Mul(stake, uint256.NewInt(v.Reputation))
		return score.Div(score, uint256.NewInt(100))
	case Hybrid:
		bonus := new(uint256.Int).Mul(stake, uint256.NewInt(v.Reputation))
		bonus.Div(bonus, uint256.NewInt(1000))
		return bonus.Add(bonus, stake)
	default:
		return stake
	}
}
