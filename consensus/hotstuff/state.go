// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import (
	"fmt"

	"github.com/luxfi/ids"
)

// State is the consensus state of one block. It is not safe for concurrent
// use; the Engine guards every State with its own lock.
type State struct {
	blockHash   ids.ID
	blockNumber uint64
	epoch       uint64
	phase       Phase
	finalized   bool

	prepareVotes   *VoteCollection
	precommitVotes *VoteCollection
	commitVotes    *VoteCollection
	certificates   *CertificateCollection
}

// NewState starts a block in the Prepare phase.
func NewState(blockHash ids.ID, blockNumber, epoch uint64) *State {
	return &State{
		blockHash:      blockHash,
		blockNumber:    blockNumber,
		epoch:          epoch,
		phase:          Prepare,
		prepareVotes:   NewVoteCollection(),
		precommitVotes: NewVoteCollection(),
		commitVotes:    NewVoteCollection(),
		certificates:   NewCertificateCollection(),
	}
}

func (s *State) BlockHash() ids.ID   { return s.blockHash }
func (s *State) BlockNumber() uint64 { return s.blockNumber }
func (s *State) Epoch() uint64       { return s.epoch }
func (s *State) Phase() Phase        { return s.phase }
func (s *State) Finalized() bool     { return s.finalized }
func (s *State) Certificates() *CertificateCollection {
	return s.certificates
}

// Votes returns the collection for phase. Decide collects no votes.
func (s *State) Votes(phase Phase) (*VoteCollection, bool) {
	switch phase {
	case Prepare:
		return s.prepareVotes, true
	case PreCommit:
		return s.precommitVotes, true
	case Commit:
		return s.commitVotes, true
	default:
		return nil, false
	}
}

// Transition moves the block to phase to. Anything outside the legal
// transition table is a protocol violation.
func (s *State) Transition(to Phase) error {
	if !IsValidTransition(s.phase, to) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidPhaseTransition, s.phase, to, s.blockHash)
	}
	s.phase = to
	if to == Decide {
		s.finalized = true
	}
	return nil
}

// Advance moves to the next phase.
func (s *State) Advance() error {
	next, ok := s.phase.Next()
	if !ok {
		return fmt.Errorf("%w: %s is terminal for %s", ErrInvalidPhaseTransition, s.phase, s.blockHash)
	}
	return s.Transition(next)
}

// Reset performs a view change: back to Prepare with empty vote
// collections. Certificates are kept, so the finality level never regresses.
func (s *State) Reset() {
	s.phase = Prepare
	s.finalized = false
	s.prepareVotes.Clear()
	s.precommitVotes.Clear()
	s.commitVotes.Clear()
}

func (s *State) FinalityLevel() FinalityLevel {
	return s.certificates.FinalityLevel()
}

// IsFinalized reports logical finalization or any non-zero finality level.
func (s *State) IsFinalized() bool {
	return s.finalized || s.FinalityLevel().IsFinalized()
}

// Snapshot is a point-in-time copy of a block's consensus state.
type Snapshot struct {
	BlockHash        ids.ID
	BlockNumber      uint64
	Epoch            uint64
	Phase            Phase
	Finalized        bool
	FinalityLevel    FinalityLevel
	CertificateCount int
	PhaseVotes       int
	PhaseStake       uint64
}

func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		BlockHash:        s.blockHash,
		BlockNumber:      s.blockNumber,
		Epoch:            s.epoch,
		Phase:            s.phase,
		Finalized:        s.finalized,
		FinalityLevel:    s.FinalityLevel(),
		CertificateCount: s.certificates.Count(),
	}
	if votes, ok := s.Votes(s.phase); ok {
		snap.PhaseVotes = votes.Len()
		snap.PhaseStake = votes.TotalStake()
	}
	return snap
}
