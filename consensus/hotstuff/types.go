// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import "github.com/luxfi/ids"

// StakeLedger reports registered stake. Votes whose weight differs from the
// ledger are rejected.
type StakeLedger interface {
	StakeOf(nodeID ids.NodeID) uint64
	IsStakedValidator(nodeID ids.NodeID) bool
}

// Admission gates which validators may take part in consensus at a block.
type Admission interface {
	CanParticipate(nodeID ids.NodeID, blockNumber uint64) bool
}

// EquivocationReporter is told about every duplicate vote.
type EquivocationReporter interface {
	ReportDuplicateVote(nodeID ids.NodeID, blockHash ids.ID, phase Phase)
}

// SignatureScheme verifies vote and certificate signatures and aggregates
// vote signatures into certificates.
type SignatureScheme interface {
	VerifyVote(vote *Vote) error
	VerifyCertificate(cert *Certificate) error
	Aggregate(signatures [][]byte) ([]byte, error)
}
