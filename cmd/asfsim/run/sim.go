// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/crypto/bls/signer/localsigner"
	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/asf/consensus/asf"
	"github.com/luxfi/asf/consensus/byzantine"
	"github.com/luxfi/asf/consensus/committee"
	"github.com/luxfi/asf/consensus/hotstuff"
	"github.com/luxfi/asf/consensus/signer"
)

var phases = []hotstuff.Phase{hotstuff.Prepare, hotstuff.PreCommit, hotstuff.Commit}

// BlockResult is the outcome of one simulated block.
type BlockResult struct {
	Number    uint64
	Hash      ids.ID
	Proposer  ids.NodeID
	Finalized bool
	Level     hotstuff.FinalityLevel
	Rejected  int
}

type Result struct {
	Blocks    []BlockResult
	Byzantine []ids.NodeID
	Excluded  []ids.NodeID
	Slashed   []ids.NodeID
	Tracker   byzantine.Report
}

func (r Result) FinalizedCount() int {
	n := 0
	for _, b := range r.Blocks {
		if b.Finalized {
			n++
		}
	}
	return n
}

type simulation struct {
	log       log.Logger
	config    *Config
	finality  *asf.Finality
	signers   map[ids.NodeID]*signer.Signer
	sources   map[ids.NodeID]string
	byzantine set.Set[ids.NodeID]
}

// Simulate builds an in-process committee and drives config.Blocks blocks
// through HotStuff. The first config.Byzantine committee members equivocate
// on every checkpoint and replay their votes.
func Simulate(ctx context.Context, logger log.Logger, config *Config) (Result, error) {
	scheme := signer.NewScheme()
	s := &simulation{
		log:     logger,
		config:  config,
		signers: make(map[ids.NodeID]*signer.Signer, config.Validators),
		sources: make(map[ids.NodeID]string, config.Validators),
	}

	validators := make([]committee.ValidatorInfo, 0, config.Validators)
	for i := range config.Validators {
		sk, err := localsigner.New()
		if err != nil {
			return Result{}, fmt.Errorf("failed to create signer: %w", err)
		}
		var nodeID ids.NodeID
		seed := hashBytes("validator", uint64(i))
		copy(nodeID[:], seed[:])
		s.signers[nodeID] = signer.New(nodeID, sk)
		s.sources[nodeID] = fmt.Sprintf("peer-%d", i)
		scheme.Register(nodeID, sk.PublicKey())
		validators = append(validators, committee.NewValidatorInfo(nodeID, config.Stake, committee.ValidityNode))
	}

	finalityConfig := asf.DefaultConfig()
	finalityConfig.HotStuff.Epoch = 1
	finality, err := asf.New(logger, finalityConfig, asf.Genesis{
		Time:       time.Now(),
		BlockHash:  hash.ComputeHash256Array([]byte("genesis")),
		Validators: validators,
	}, asf.Deps{
		DB:     memdb.New(),
		Scheme: scheme,
	})
	if err != nil {
		return Result{}, err
	}
	s.finality = finality

	members := finality.CurrentCommittee()
	s.byzantine = set.NewSet[ids.NodeID](config.Byzantine)
	for _, member := range members[:min(config.Byzantine, len(members))] {
		s.byzantine.Add(member.NodeID)
	}

	result := Result{Byzantine: s.byzantine.List()}
	for number := uint64(1); number <= config.Blocks; number++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		block, err := s.runBlock(ctx, number)
		if err != nil {
			return result, err
		}
		result.Blocks = append(result.Blocks, block)

		if _, err := finality.Maintain(); err != nil {
			return result, err
		}
	}

	result.Excluded = finality.Exclusions().ExcludedValidators()
	result.Slashed = finality.Accountability().SlashedValidators()
	result.Tracker = finality.Tracker().GenerateReport()
	return result, nil
}

func (s *simulation) runBlock(ctx context.Context, number uint64) (BlockResult, error) {
	proposer, ok := s.finality.Committee().ProposerForSlot(number)
	if !ok {
		return BlockResult{}, committee.ErrEmptyCommittee
	}
	block := BlockResult{
		Number:   number,
		Hash:     hashBytes("block", number),
		Proposer: proposer.NodeID,
	}
	if err := s.finality.ProposeBlock(ctx, block.Hash, number); err != nil {
		return block, err
	}
	if err := s.finality.RecordQueenBlock(number, proposer.NodeID, block.Hash); err != nil {
		return block, err
	}

	for _, phase := range phases {
		for _, member := range s.finality.CurrentCommittee() {
			if !s.finality.IsValidatorAllowed(member.NodeID, number) {
				continue
			}
			vote := &hotstuff.Vote{
				BlockHash:   block.Hash,
				BlockNumber: number,
				Phase:       phase,
				StakeWeight: member.Stake,
				Epoch:       s.finality.Engine().Epoch(),
			}
			if err := s.signers[member.NodeID].SignVote(vote); err != nil {
				return block, err
			}
			source := s.sources[member.NodeID]
			if _, err := s.finality.ProcessVote(ctx, vote, source); err != nil {
				if !expectedRejection(err) {
					return block, err
				}
				block.Rejected++
			}
			if s.byzantine.Contains(member.NodeID) {
				// Replayed votes are reported as equivocation signals.
				if _, err := s.finality.ProcessVote(ctx, vote, source); err == nil {
					return block, fmt.Errorf("replayed vote from %s accepted", member.NodeID)
				}
				block.Rejected++
			}
		}
	}

	block.Finalized = s.finality.IsFinalized(block.Hash)
	block.Level = s.finality.FinalityLevel(block.Hash)
	if block.Finalized {
		if err := s.signCheckpoint(block); err != nil {
			return block, err
		}
	}
	return block, nil
}

// signCheckpoint has every admitted member sign the finalized block. The
// byzantine members also sign a competing block at the same height.
func (s *simulation) signCheckpoint(block BlockResult) error {
	setID := s.finality.Engine().Epoch()
	for _, member := range s.finality.CurrentCommittee() {
		if !s.finality.IsValidatorAllowed(member.NodeID, block.Number) {
			continue
		}
		sig := byzantine.SignedCheckpoint{
			NodeID:         member.NodeID,
			BlockNumber:    block.Number,
			BlockHash:      block.Hash,
			Signature:      block.Hash[:],
			AuthoritySetID: setID,
			Timestamp:      s.finality.Clock().UnixMilli(),
		}
		source := s.sources[member.NodeID]
		if _, err := s.finality.ObserveSignature(sig, source); err != nil {
			return err
		}
		if !s.byzantine.Contains(member.NodeID) {
			continue
		}

		competing := sig
		competing.BlockHash = hashBytes("fork", block.Number)
		competing.Signature = competing.BlockHash[:]
		if _, err := s.finality.ObserveSignature(competing, source); !errors.Is(err, byzantine.ErrEquivocation) {
			return fmt.Errorf("equivocation by %s went unnoticed: %w", member.NodeID, err)
		}
		s.log.Debug("equivocated",
			log.Stringer("nodeID", member.NodeID),
			log.Uint64("block", block.Number),
		)
	}
	return nil
}

// expectedRejection covers votes honest nodes routinely send too late, plus
// votes from validators excluded between blocks.
func expectedRejection(err error) bool {
	return errors.Is(err, hotstuff.ErrInvalidPhaseTransition) ||
		errors.Is(err, hotstuff.ErrBlockFinalized) ||
		errors.Is(err, hotstuff.ErrValidatorExcluded)
}

func hashBytes(domain string, n uint64) ids.ID {
	b := binary.BigEndian.AppendUint64([]byte(domain), n)
	return hash.ComputeHash256Array(b)
}
