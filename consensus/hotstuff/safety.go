// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"

	safemath "github.com/luxfi/asf/utils/math"
)

// SafetyChecker guards against finalizing two conflicting blocks at the
// same height.
type SafetyChecker struct {
	mu sync.RWMutex

	committeeSize uint64

	finalized       set.Set[ids.ID]
	finalizedHeight map[uint64]ids.ID
	// prunedBelow is the lowest height still tracked.
	prunedBelow uint64
}

func NewSafetyChecker(committeeSize uint64) *SafetyChecker {
	return &SafetyChecker{
		committeeSize:   committeeSize,
		finalized:       set.NewSet[ids.ID](0),
		finalizedHeight: make(map[uint64]ids.ID),
	}
}

// MaxByzantine is the number of faulty validators the committee tolerates.
func (s *SafetyChecker) MaxByzantine() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return safemath.MaxFaulty(s.committeeSize)
}

func (s *SafetyChecker) UpdateCommittee(committeeSize uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.committeeSize = committeeSize
}

// MarkFinalized records blockHash as final at blockNumber. Finalizing a
// different block at an already final height is a safety violation.
func (s *SafetyChecker) MarkFinalized(blockHash ids.ID, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if blockNumber < s.prunedBelow {
		return fmt.Errorf("%w: height %d is below the pruned height %d", ErrSafetyViolation, blockNumber, s.prunedBelow)
	}
	if existing, ok := s.finalizedHeight[blockNumber]; ok && existing != blockHash {
		return fmt.Errorf("%w: %s already finalized at height %d", ErrSafetyViolation, existing, blockNumber)
	}
	s.finalized.Add(blockHash)
	s.finalizedHeight[blockNumber] = blockHash
	return nil
}

// Prune forgets finalized blocks below height and returns how many were
// dropped. Heights below the pruned height can no longer be finalized.
func (s *SafetyChecker) Prune(height uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if height <= s.prunedBelow {
		return 0
	}
	pruned := 0
	for blockNumber, blockHash := range s.finalizedHeight {
		if blockNumber < height {
			delete(s.finalizedHeight, blockNumber)
			s.finalized.Remove(blockHash)
			pruned++
		}
	}
	s.prunedBelow = height
	return pruned
}

// IsPruned reports whether blockNumber is below the pruned height.
func (s *SafetyChecker) IsPruned(blockNumber uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return blockNumber < s.prunedBelow
}

func (s *SafetyChecker) FinalizedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.finalizedHeight)
}

func (s *SafetyChecker) IsFinalized(blockHash ids.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.finalized.Contains(blockHash)
}

// LivenessChecker notices when finalization stops making progress.
type LivenessChecker struct {
	mu sync.RWMutex

	stallTimeout      time.Duration
	lastFinalized     uint64
	lastFinalizedTime time.Time
	viewChanges       int
}

// NewLivenessChecker starts measuring from start.
func NewLivenessChecker(stallTimeout time.Duration, start time.Time) *LivenessChecker {
	return &LivenessChecker{
		stallTimeout:      stallTimeout,
		lastFinalizedTime: start,
	}
}

func (l *LivenessChecker) RecordFinalized(blockNumber uint64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastFinalized = blockNumber
	l.lastFinalizedTime = at
	l.viewChanges = 0
}

func (l *LivenessChecker) RecordViewChange() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.viewChanges++
}

// IsStalled reports whether nothing finalized within the stall timeout.
func (l *LivenessChecker) IsStalled(now time.Time) bool {
	return l.TimeSinceFinalization(now) >= l.stallTimeout
}

func (l *LivenessChecker) TimeSinceFinalization(now time.Time) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if now.Before(l.lastFinalizedTime) {
		return 0
	}
	return now.Sub(l.lastFinalizedTime)
}

func (l *LivenessChecker) LastFinalized() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.lastFinalized
}

func (l *LivenessChecker) ViewChanges() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.viewChanges
}

// ForkDetector records every block hash seen per height.
type ForkDetector struct {
	mu       sync.RWMutex
	byHeight map[uint64]set.Set[ids.ID]
}

func NewForkDetector() *ForkDetector {
	return &ForkDetector{
		byHeight: make(map[uint64]set.Set[ids.ID]),
	}
}

func (f *ForkDetector) RecordBlock(blockNumber uint64, blockHash ids.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hashes, ok := f.byHeight[blockNumber]
	if !ok {
		hashes = set.NewSet[ids.ID](1)
		f.byHeight[blockNumber] = hashes
	}
	hashes.Add(blockHash)
}

func (f *ForkDetector) HasForkAt(blockNumber uint64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.byHeight[blockNumber].Len() > 1
}

// Forks returns the competing hashes at every forked height.
func (f *ForkDetector) Forks() map[uint64][]ids.ID {
	f.mu.RLock()
	defer f.mu.RUnlock()

	forks := make(map[uint64][]ids.ID)
	for height, hashes := range f.byHeight {
		if hashes.Len() > 1 {
			forks[height] = hashes.List()
		}
	}
	return forks
}

// Prune keeps only the highest keepLastN heights.
func (f *ForkDetector) Prune(keepLastN int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.byHeight) <= keepLastN {
		return
	}
	heights := make([]uint64, 0, len(f.byHeight))
	for height := range f.byHeight {
		heights = append(heights, height)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	for _, height := range heights[:len(heights)-keepLastN] {
		delete(f.byHeight, height)
	}
}
