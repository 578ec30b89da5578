// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package asf

import (
	"fmt"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/asf/consensus/ant"
	"github.com/luxfi/asf/consensus/hotstuff"
)

// Duty is what a validator may produce in a slot.
type Duty uint8

const (
	DutyNone Duty = iota
	// DutyQueen is the PPFA proposer's turn.
	DutyQueen
	// DutyAnt means the Queen's timeout has passed and the slot still has
	// room for fallback blocks.
	DutyAnt
)

func (d Duty) String() string {
	switch d {
	case DutyNone:
		return "none"
	case DutyQueen:
		return "queen"
	case DutyAnt:
		return "ant"
	default:
		return fmt.Sprintf("duty(%d)", uint8(d))
	}
}

// ProposerDuty reports whether nodeID should propose in slot at now.
// Excluded validators and validators outside the committee have no duty.
func (f *Finality) ProposerDuty(slot uint64, nodeID ids.NodeID, now time.Time) Duty {
	proposer, ok := f.committee.ProposerForSlot(slot)
	if !ok || !f.exclusions.CanParticipate(nodeID, f.Height()) {
		return DutyNone
	}
	if proposer.NodeID == nodeID {
		return DutyQueen
	}
	if !f.committee.IsInCommittee(nodeID) {
		return DutyNone
	}

	if f.ants.HasQueenForSlot(slot) {
		return DutyNone
	}
	window := f.scheduler.Window(slot)
	if !window.Contains(now) || window.Elapsed(now) < f.ants.Timeout() || !f.ants.CanProduceAnt(slot) {
		return DutyNone
	}
	return DutyAnt
}

// RecordQueenBlock notes that the Queen of slot produced blockHash, which
// ends Ant duty for the slot.
func (f *Finality) RecordQueenBlock(slot uint64, proposer ids.NodeID, blockHash ids.ID) error {
	queen, ok := f.committee.ProposerForSlot(slot)
	if !ok || queen.NodeID != proposer {
		return fmt.Errorf("%w: %s in slot %d", ErrNotQueen, proposer, slot)
	}
	if err := f.ants.RecordQueen(slot, blockHash); err != nil {
		return err
	}
	f.log.Debug("recorded queen block",
		log.Uint64("slot", slot),
		log.Stringer("proposer", proposer),
		log.Stringer("blockHash", blockHash),
	)
	return nil
}

// AntDecision applies the configured producer strategy for the local
// validator in slot.
func (f *Finality) AntDecision(slot uint64, now time.Time, availableTxs int) ant.Decision {
	window := f.scheduler.Window(slot)
	if !window.Contains(now) {
		return ant.Skip
	}
	return f.config.Producer.Decide(f.ants, slot, window.Elapsed(now), availableTxs)
}

// RegisterAnt accepts a fallback block from an admitted committee member
// that is not the slot's Queen.
func (f *Finality) RegisterAnt(block ant.Block) error {
	if !f.committee.IsInCommittee(block.Proposer) {
		return fmt.Errorf("%w: %s", ErrNotCommitteeMember, block.Proposer)
	}
	if !f.exclusions.CanParticipate(block.Proposer, block.BlockNumber) {
		return fmt.Errorf("%w: %s", hotstuff.ErrValidatorExcluded, block.Proposer)
	}
	if queen, ok := f.committee.ProposerForSlot(block.Slot); ok && queen.NodeID == block.Proposer {
		return fmt.Errorf("%w: %s is the queen of slot %d", ErrQueenAnt, block.Proposer, block.Slot)
	}
	if err := f.ants.RegisterAnt(block.Slot, block); err != nil {
		return err
	}
	f.log.Debug("registered ant",
		log.Uint64("slot", block.Slot),
		log.Stringer("proposer", block.Proposer),
		log.Stringer("blockHash", block.BlockHash),
		log.Int("txCount", block.TxCount),
	)
	return nil
}
