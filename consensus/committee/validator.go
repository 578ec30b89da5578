// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package committee

import (
	"fmt"

	"github.com/luxfi/ids"
)

// PeerType is the network role a validator registered with.
type PeerType uint8

const (
	Common PeerType = iota
	StakingCommon
	ValidityNode
	FlareNode
	DecentralizedDirector
)

func (p PeerType) String() string {
	switch p {
	case Common:
		return "common"
	case StakingCommon:
		return "staking-common"
	case ValidityNode:
		return "validity-node"
	case FlareNode:
		return "flare-node"
	case DecentralizedDirector:
		return "decentralized-director"
	default:
		return fmt.Sprintf("peer-type(%d)", uint8(p))
	}
}

// CanBeInCommittee reports whether peers of this type may be selected into
// the PPFA committee.
func (p PeerType) CanBeInCommittee() bool {
	switch p {
	case ValidityNode, FlareNode, DecentralizedDirector:
		return true
	default:
		return false
	}
}

// MaxReputation is the reputation a freshly registered validator starts with.
const MaxReputation = 100

type ValidatorInfo struct {
	NodeID     ids.NodeID
	Stake      uint64
	PeerType   PeerType
	Reputation uint64
	Active     bool
}

// NewValidatorInfo returns an active validator with full reputation.
func NewValidatorInfo(nodeID ids.NodeID, stake uint64, peerType PeerType) ValidatorInfo {
	return ValidatorInfo{
		NodeID:     nodeID,
		Stake:      stake,
		PeerType:   peerType,
		Reputation: MaxReputation,
		Active:     true,
	}
}

func (v ValidatorInfo) CanParticipate() bool {
	return v.Active && v.Stake > 0
}

// Member is a committee seat, snapshotted at rotation time.
type Member struct {
	NodeID      ids.NodeID
	Stake       uint64
	PPFAIndex   uint32
	JoinedEpoch uint64
}
