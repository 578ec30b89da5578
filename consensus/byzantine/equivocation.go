// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package byzantine

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/btree"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/asf/utils/timer/mockable"
)

const (
	DefaultMaxTrackedCheckpoints = 1_000

	// FullSlash is the share of stake, in percent, slashed for equivocation.
	FullSlash = 100

	heightTreeDegree = 8
)

var (
	ErrEquivocation      = errors.New("equivocation detected")
	ErrInvalidEvidence   = errors.New("invalid equivocation evidence")
	ErrNoPendingEvidence = errors.New("no pending equivocation evidence")
)

// SignedCheckpoint is a validator's signature over a block at a height.
type SignedCheckpoint struct {
	NodeID         ids.NodeID
	BlockNumber    uint64
	BlockHash      ids.ID
	Signature      []byte
	AuthoritySetID uint64
	Timestamp      uint64
}

// EquivocationEvidence proves a validator signed two different blocks at the
// same height.
type EquivocationEvidence struct {
	NodeID         ids.NodeID `serialize:"true"`
	BlockNumber    uint64     `serialize:"true"`
	BlockHash1     ids.ID     `serialize:"true"`
	BlockHash2     ids.ID     `serialize:"true"`
	Signature1     []byte     `serialize:"true"`
	Signature2     []byte     `serialize:"true"`
	AuthoritySetID uint64     `serialize:"true"`
	DetectedAt     uint64     `serialize:"true"`
}

// Verify checks the evidence is self-consistent. Signature validity is left
// to the caller's signature scheme.
func (e *EquivocationEvidence) Verify() error {
	switch {
	case e.BlockHash1 == e.BlockHash2:
		return fmt.Errorf("%w: identical block hashes", ErrInvalidEvidence)
	case bytes.Equal(e.Signature1, e.Signature2):
		return fmt.Errorf("%w: identical signatures", ErrInvalidEvidence)
	default:
		return nil
	}
}

func (e *EquivocationEvidence) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, e)
}

func ParseEquivocationEvidence(b []byte) (*EquivocationEvidence, error) {
	e := &EquivocationEvidence{}
	if _, err := Codec.Unmarshal(b, e); err != nil {
		return nil, err
	}
	return e, nil
}

type SlashingRecord struct {
	NodeID       ids.NodeID
	Evidence     EquivocationEvidence
	SlashedAt    uint64
	SlashPercent uint32
}

// SlashingReport is the proposal handed to the slashing collaborator.
type SlashingReport struct {
	Evidence          EquivocationEvidence
	SlashPercent      uint32
	ProposedExclusion bool
}

type AccountabilityReport struct {
	TotalSlashed int
	Pending      []EquivocationEvidence
	Slashed      map[ids.NodeID]SlashingRecord
}

type signature struct {
	hash      ids.ID
	signature []byte
}

type heightSignatures struct {
	height     uint64
	signatures []signature
}

func lessHeight(a, b *heightSignatures) bool {
	return a.height < b.height
}

// ForkAccountability remembers which block each validator signed at each
// height and turns conflicting signatures into slashable evidence.
type ForkAccountability struct {
	mu sync.RWMutex

	log           log.Logger
	clock         *mockable.Clock
	maxTracked    int
	equivocations metric.Counter

	signed  map[ids.NodeID]*btree.BTreeG[*heightSignatures]
	pending []EquivocationEvidence
	slashed map[ids.NodeID]SlashingRecord
}

func NewForkAccountability(
	log log.Logger,
	maxTracked int,
	clock *mockable.Clock,
	registerer metric.Registerer,
) (*ForkAccountability, error) {
	if maxTracked <= 0 {
		maxTracked = DefaultMaxTrackedCheckpoints
	}
	if clock == nil {
		clock = &mockable.Clock{}
	}
	counter := metric.NewCounter(metric.CounterOpts{
		Name: "byzantine_equivocations",
		Help: "Number of equivocations detected",
	})
	if err := registerer.Register(metric.AsCollector(counter)); err != nil {
		return nil, fmt.Errorf("failed to register equivocation metrics: %w", err)
	}
	return &ForkAccountability{
		log:           log,
		clock:         clock,
		maxTracked:    maxTracked,
		equivocations: counter,
		signed:        make(map[ids.NodeID]*btree.BTreeG[*heightSignatures]),
		slashed:       make(map[ids.NodeID]SlashingRecord),
	}, nil
}

// CheckAndRecordSignature records sig. If the validator already signed a
// different block at the same height the evidence is queued and returned
// along with ErrEquivocation, and sig is not recorded.
func (f *ForkAccountability) CheckAndRecordSignature(sig SignedCheckpoint) (*EquivocationEvidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	heights, ok := f.signed[sig.NodeID]
	if !ok {
		heights = btree.NewG(heightTreeDegree, lessHeight)
		f.signed[sig.NodeID] = heights
	}

	atHeight, ok := heights.Get(&heightSignatures{height: sig.BlockNumber})
	if !ok {
		atHeight = &heightSignatures{height: sig.BlockNumber}
		heights.ReplaceOrInsert(atHeight)
	}

	for _, existing := range atHeight.signatures {
		if existing.hash == sig.BlockHash {
			return nil, nil
		}
		evidence := EquivocationEvidence{
			NodeID:         sig.NodeID,
			BlockNumber:    sig.BlockNumber,
			BlockHash1:     existing.hash,
			BlockHash2:     sig.BlockHash,
			Signature1:     existing.signature,
			Signature2:     sig.Signature,
			AuthoritySetID: sig.AuthoritySetID,
			DetectedAt:     f.clock.UnixMilli(),
		}
		f.pending = append(f.pending, evidence)
		f.equivocations.Inc()

		f.log.Error("equivocation detected",
			log.Stringer("nodeID", sig.NodeID),
			log.Uint64("height", sig.BlockNumber),
			log.Stringer("first", existing.hash),
			log.Stringer("second", sig.BlockHash),
			log.Int("pending", len(f.pending)),
		)
		return &evidence, fmt.Errorf("%w: %s at height %d", ErrEquivocation, sig.NodeID, sig.BlockNumber)
	}

	atHeight.signatures = append(atHeight.signatures, signature{
		hash:      sig.BlockHash,
		signature: sig.Signature,
	})
	if heights.Len() > f.maxTracked {
		heights.DeleteMin()
	}
	return nil, nil
}

// PopEquivocation removes and returns the oldest pending evidence.
func (f *ForkAccountability) PopEquivocation() (EquivocationEvidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 {
		return EquivocationEvidence{}, ErrNoPendingEvidence
	}
	evidence := f.pending[0]
	f.pending = f.pending[1:]
	return evidence, nil
}

// RequeueEquivocations puts evidence back at the front of the queue, in
// order, so a later pass retries it.
func (f *ForkAccountability) RequeueEquivocations(evidence []EquivocationEvidence) {
	if len(evidence) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = append(slices.Clone(evidence), f.pending...)
}

func (f *ForkAccountability) PendingEquivocations() []EquivocationEvidence {
	f.mu.RLock()
	defer f.mu.RUnlock()

	pending := make([]EquivocationEvidence, len(f.pending))
	copy(pending, f.pending)
	return pending
}

// MarkSlashed records a full slash for the evidence's validator.
func (f *ForkAccountability) MarkSlashed(evidence EquivocationEvidence) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.slashed[evidence.NodeID] = SlashingRecord{
		NodeID:       evidence.NodeID,
		Evidence:     evidence,
		SlashedAt:    f.clock.UnixMilli(),
		SlashPercent: FullSlash,
	}

	f.log.Error("validator slashed for equivocation",
		log.Stringer("nodeID", evidence.NodeID),
		log.Uint64("height", evidence.BlockNumber),
	)
}

func (f *ForkAccountability) IsSlashed(nodeID ids.NodeID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, ok := f.slashed[nodeID]
	return ok
}

func (f *ForkAccountability) SlashingRecord(nodeID ids.NodeID) (SlashingRecord, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	record, ok := f.slashed[nodeID]
	return record, ok
}

func (f *ForkAccountability) SlashedValidators() []ids.NodeID {
	f.mu.RLock()
	defer f.mu.RUnlock()

	slashed := make([]ids.NodeID, 0, len(f.slashed))
	for nodeID := range f.slashed {
		slashed = append(slashed, nodeID)
	}
	return sortNodeIDs(slashed)
}

func (*ForkAccountability) CreateSlashingReport(evidence EquivocationEvidence) SlashingReport {
	return SlashingReport{
		Evidence:          evidence,
		SlashPercent:      FullSlash,
		ProposedExclusion: true,
	}
}

// SignaturesAtHeight returns the block hashes the validator signed at
// height.
func (f *ForkAccountability) SignaturesAtHeight(nodeID ids.NodeID, height uint64) []ids.ID {
	f.mu.RLock()
	defer f.mu.RUnlock()

	heights, ok := f.signed[nodeID]
	if !ok {
		return nil
	}
	atHeight, ok := heights.Get(&heightSignatures{height: height})
	if !ok {
		return nil
	}
	hashes := make([]ids.ID, len(atHeight.signatures))
	for i, sig := range atHeight.signatures {
		hashes[i] = sig.hash
	}
	return hashes
}

func (f *ForkAccountability) HasSignedAtHeight(nodeID ids.NodeID, height uint64) bool {
	return len(f.SignaturesAtHeight(nodeID, height)) > 0
}

func (f *ForkAccountability) TrackedCheckpointCount(nodeID ids.NodeID) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if heights, ok := f.signed[nodeID]; ok {
		return heights.Len()
	}
	return 0
}

// CleanupOldCheckpoints forgets signatures below current-keep.
func (f *ForkAccountability) CleanupOldCheckpoints(current, keep uint64) {
	var cutoff uint64
	if current > keep {
		cutoff = current - keep
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for nodeID, heights := range f.signed {
		for {
			oldest, ok := heights.Min()
			if !ok || oldest.height >= cutoff {
				break
			}
			heights.DeleteMin()
		}
		if heights.Len() == 0 {
			delete(f.signed, nodeID)
		}
	}
}

func (f *ForkAccountability) GenerateReport() AccountabilityReport {
	f.mu.RLock()
	defer f.mu.RUnlock()

	pending := make([]EquivocationEvidence, len(f.pending))
	copy(pending, f.pending)
	slashed := make(map[ids.NodeID]SlashingRecord, len(f.slashed))
	for nodeID, record := range f.slashed {
		slashed[nodeID] = record
	}
	return AccountabilityReport{
		TotalSlashed: len(slashed),
		Pending:      pending,
		Slashed:      slashed,
	}
}
