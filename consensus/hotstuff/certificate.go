// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import (
	"fmt"

	"github.com/luxfi/ids"
)

// VoteAggregate summarizes the votes backing a certificate.
type VoteAggregate struct {
	ValidatorCount uint64 `serialize:"true"`
	TotalStake     uint64 `serialize:"true"`
}

// MeetsThreshold reports whether the aggregate satisfies both quorums.
func (a VoteAggregate) MeetsThreshold(committeeSize, totalStake uint64) bool {
	return MeetsQuorum(a.ValidatorCount, committeeSize) &&
		MeetsStakeQuorum(a.TotalStake, totalStake)
}

// Certificate is a validity certificate: proof that a quorum voted for a
// block in a phase. A block may collect many certificates per phase.
type Certificate struct {
	BlockHash   ids.ID        `serialize:"true"`
	BlockNumber uint64        `serialize:"true"`
	Phase       Phase         `serialize:"true"`
	Issuer      ids.NodeID    `serialize:"true"`
	IssuerStake uint64        `serialize:"true"`
	Epoch       uint64        `serialize:"true"`
	Timestamp   uint64        `serialize:"true"`
	Aggregate   VoteAggregate `serialize:"true"`
	// Signers lists the voters in the order their signatures were
	// aggregated into Signature.
	Signers   []ids.NodeID `serialize:"true"`
	Signature []byte       `serialize:"true"`
}

// Message returns the bytes every signer of the certificate signed.
func (c *Certificate) Message() ([]byte, error) {
	return SigningMessage(c.BlockHash, c.BlockNumber, c.Phase, c.Epoch)
}

// Bytes returns the canonical encoding of the certificate.
func (c *Certificate) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, c)
}

// Verify checks the certificate against the committee it claims a quorum of.
func (c *Certificate) Verify(committeeSize, totalStake, currentEpoch uint64) error {
	if !c.Phase.Valid() {
		return fmt.Errorf("%w: unknown %s", ErrInvalidCertificate, c.Phase)
	}
	if c.Epoch > currentEpoch {
		return fmt.Errorf("%w: future epoch %d, current epoch %d", ErrInvalidCertificate, c.Epoch, currentEpoch)
	}
	if c.IssuerStake == 0 {
		return fmt.Errorf("%w: zero issuer stake", ErrInvalidCertificate)
	}
	if need := Threshold(committeeSize); c.Aggregate.ValidatorCount < need {
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientVotes, c.Aggregate.ValidatorCount, need)
	}
	if need := StakeThreshold(totalStake); c.Aggregate.TotalStake < need {
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientStake, c.Aggregate.TotalStake, need)
	}
	if len(c.Signers) != 0 && uint64(len(c.Signers)) != c.Aggregate.ValidatorCount {
		return fmt.Errorf("%w: %d signers for %d validators", ErrInvalidCertificate, len(c.Signers), c.Aggregate.ValidatorCount)
	}
	return nil
}
