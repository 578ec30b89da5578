// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import (
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"

	safemath "github.com/luxfi/asf/utils/math"
)

// VoteCollection holds at most one vote per validator for a single
// (block, phase). Receipt order does not affect the quorum outcome.
type VoteCollection struct {
	votes      map[ids.NodeID]*Vote
	order      []ids.NodeID
	totalStake uint64
}

func NewVoteCollection() *VoteCollection {
	return &VoteCollection{
		votes: make(map[ids.NodeID]*Vote),
	}
}

// Add inserts v. A second vote from the same validator is an equivocation
// signal and is returned as ErrDuplicateVote.
func (c *VoteCollection) Add(v *Vote) error {
	if _, ok := c.votes[v.Validator]; ok {
		return fmt.Errorf("%w: %s in %s for %s", ErrDuplicateVote, v.Validator, v.Phase, v.BlockHash)
	}
	total, err := safemath.Add(c.totalStake, v.StakeWeight)
	if err != nil {
		return fmt.Errorf("%w: stake overflow: %w", ErrInvalidVote, err)
	}
	c.votes[v.Validator] = v
	c.order = append(c.order, v.Validator)
	c.totalStake = total
	return nil
}

func (c *VoteCollection) Len() int {
	return len(c.votes)
}

func (c *VoteCollection) TotalStake() uint64 {
	return c.totalStake
}

func (c *VoteCollection) Contains(nodeID ids.NodeID) bool {
	_, ok := c.votes[nodeID]
	return ok
}

// Voters returns the set of validators that voted.
func (c *VoteCollection) Voters() set.Set[ids.NodeID] {
	voters := set.NewSet[ids.NodeID](len(c.order))
	for _, nodeID := range c.order {
		voters.Add(nodeID)
	}
	return voters
}

// Votes returns the votes in receipt order.
func (c *VoteCollection) Votes() []*Vote {
	votes := make([]*Vote, 0, len(c.order))
	for _, nodeID := range c.order {
		votes = append(votes, c.votes[nodeID])
	}
	return votes
}

// Aggregate summarizes the collected votes.
func (c *VoteCollection) Aggregate() VoteAggregate {
	return VoteAggregate{
		ValidatorCount: uint64(len(c.votes)),
		TotalStake:     c.totalStake,
	}
}

func (c *VoteCollection) MeetsThreshold(committeeSize uint64) bool {
	return MeetsQuorum(uint64(len(c.votes)), committeeSize)
}

func (c *VoteCollection) MeetsStakeThreshold(totalStake uint64) bool {
	return MeetsStakeQuorum(c.totalStake, totalStake)
}

// Clear drops every vote.
func (c *VoteCollection) Clear() {
	clear(c.votes)
	c.order = c.order[:0]
	c.totalStake = 0
}

// CertificateCollection is the ordered sequence of certificates of a block,
// partitioned by phase.
type CertificateCollection struct {
	all     []*Certificate
	byPhase [NumPhases][]*Certificate
}

func NewCertificateCollection() *CertificateCollection {
	return &CertificateCollection{}
}

// Add appends cert. Only one certificate per issuer per phase is accepted.
func (c *CertificateCollection) Add(cert *Certificate) error {
	if !cert.Phase.Valid() {
		return fmt.Errorf("%w: unknown %s", ErrInvalidCertificate, cert.Phase)
	}
	for _, existing := range c.byPhase[cert.Phase] {
		if existing.Issuer == cert.Issuer {
			return fmt.Errorf("%w: %s already issued a %s certificate", ErrDuplicateCertificate, cert.Issuer, cert.Phase)
		}
	}
	c.byPhase[cert.Phase] = append(c.byPhase[cert.Phase], cert)
	c.all = append(c.all, cert)
	return nil
}

func (c *CertificateCollection) Count() int {
	return len(c.all)
}

func (c *CertificateCollection) CountForPhase(phase Phase) int {
	if !phase.Valid() {
		return 0
	}
	return len(c.byPhase[phase])
}

func (c *CertificateCollection) ForPhase(phase Phase) []*Certificate {
	if !phase.Valid() {
		return nil
	}
	return append([]*Certificate(nil), c.byPhase[phase]...)
}

func (c *CertificateCollection) All() []*Certificate {
	return append([]*Certificate(nil), c.all...)
}

// FinalityLevel derives the level from the running certificate count, so it
// can only rise as certificates accumulate.
func (c *CertificateCollection) FinalityLevel() FinalityLevel {
	return FinalityLevelFromCount(len(c.all))
}
