// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package committee

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	safemath "github.com/luxfi/asf/utils/math"
)

var (
	ErrValidatorCannotParticipate = errors.New("validator cannot participate")
	ErrValidatorNotFound          = errors.New("validator not found")
	ErrNoEligibleValidators       = errors.New("no eligible validators")
	ErrCommitteeFull              = errors.New("committee full")
	ErrEmptyCommittee             = errors.New("empty committee")
)

// Manager owns the validator pool and the PPFA committee selected from it.
type Manager struct {
	mu sync.RWMutex

	log        log.Logger
	config     Config
	targetSize int
	metrics    *managerMetrics

	pool      map[ids.NodeID]ValidatorInfo
	committee []Member
	epoch     uint64
	ppfaIndex uint32
}

func New(log log.Logger, config Config, registerer metric.Registerer) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("committee config: %w", err)
	}
	m, err := newManagerMetrics(registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register committee metrics: %w", err)
	}
	return &Manager{
		log:        log,
		config:     config,
		targetSize: clampSize(config.TargetSize),
		metrics:    m,
		pool:       make(map[ids.NodeID]ValidatorInfo),
	}, nil
}

// AddValidator inserts or replaces a validator in the pool.
func (m *Manager) AddValidator(info ValidatorInfo) error {
	if !info.CanParticipate() {
		return fmt.Errorf("%w: %s", ErrValidatorCannotParticipate, info.NodeID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pool[info.NodeID] = info
	return nil
}

// RemoveValidator drops a validator from the pool and from the committee.
// Remaining members keep their PPFA indices until the next rotation.
func (m *Manager) RemoveValidator(nodeID ids.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pool[nodeID]; !ok {
		return fmt.Errorf("%w: %s", ErrValidatorNotFound, nodeID)
	}
	delete(m.pool, nodeID)

	m.committee = slices.DeleteFunc(m.committee, func(member Member) bool {
		return member.NodeID == nodeID
	})
	if len(m.committee) == 0 {
		m.ppfaIndex = 0
	} else {
		m.ppfaIndex %= uint32(len(m.committee))
	}
	m.metrics.observe(m.committee)
	return nil
}

// UpdateValidator applies update to a pooled validator. Governance and
// slashing collaborators use this to change reputation and activity.
func (m *Manager) UpdateValidator(nodeID ids.NodeID, update func(*ValidatorInfo)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.pool[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrValidatorNotFound, nodeID)
	}
	update(&info)
	info.NodeID = nodeID
	m.pool[nodeID] = info
	return nil
}

func (m *Manager) GetValidator(nodeID ids.NodeID) (ValidatorInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.pool[nodeID]
	return info, ok
}

func (m *Manager) PoolSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.pool)
}

func (m *Manager) ActiveValidators() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := 0
	for _, info := range m.pool {
		if info.Active {
			active++
		}
	}
	return active
}

func (m *Manager) EligibleValidators() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.eligible())
}

// ValidatorIDs returns every pooled validator in ascending order.
func (m *Manager) ValidatorIDs() []ids.NodeID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nodeIDs := make([]ids.NodeID, 0, len(m.pool))
	for nodeID := range m.pool {
		nodeIDs = append(nodeIDs, nodeID)
	}
	slices.SortFunc(nodeIDs, compareNodeIDs)
	return nodeIDs
}

func (m *Manager) eligible() []ValidatorInfo {
	eligible := make([]ValidatorInfo, 0, len(m.pool))
	for _, info := range m.pool {
		if info.CanParticipate() &&
			info.Reputation >= m.config.MinReputation &&
			info.PeerType.CanBeInCommittee() {
			eligible = append(eligible, info)
		}
	}
	return eligible
}

// RotateCommittee selects the committee for newEpoch and resets the PPFA
// index. Selection depends only on the pool contents, so every node with the
// same pool derives the same ordered committee.
func (m *Manager) RotateCommittee(newEpoch uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.eligible()
	if len(candidates) == 0 {
		return ErrNoEligibleValidators
	}

	strategy := m.config.Strategy
	slices.SortFunc(candidates, func(a, b ValidatorInfo) int {
		if c := strategy.Score(b).Cmp(strategy.Score(a)); c != 0 {
			return c
		}
		if a.Reputation != b.Reputation {
			if a.Reputation > b.Reputation {
				return -1
			}
			return 1
		}
		return compareNodeIDs(a.NodeID, b.NodeID)
	})
	if len(candidates) > m.targetSize {
		candidates = candidates[:m.targetSize]
	}

	committee := make([]Member, len(candidates))
	for i, info := range candidates {
		committee[i] = Member{
			NodeID:      info.NodeID,
			Stake:       info.Stake,
			PPFAIndex:   uint32(i),
			JoinedEpoch: newEpoch,
		}
	}
	m.committee = committee
	m.epoch = newEpoch
	m.ppfaIndex = 0
	m.metrics.rotations.Inc()
	m.metrics.observe(m.committee)

	if len(committee) < MinCommitteeSize {
		m.log.Warn("committee below minimum size",
			log.Uint64("epoch", newEpoch),
			log.Int("size", len(committee)),
			log.Int("minimum", MinCommitteeSize),
		)
	}
	m.log.Info("rotated committee",
		log.Uint64("epoch", newEpoch),
		log.Int("size", len(committee)),
		log.Stringer("strategy", strategy),
	)
	return nil
}

// ForceAddToCommittee appends a member outside of rotation, as at genesis.
func (m *Manager) ForceAddToCommittee(nodeID ids.NodeID, stake uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.committee) >= MaxCommitteeSize {
		return fmt.Errorf("%w: %d members", ErrCommitteeFull, len(m.committee))
	}
	m.committee = append(m.committee, Member{
		NodeID:      nodeID,
		Stake:       stake,
		PPFAIndex:   uint32(len(m.committee)),
		JoinedEpoch: m.epoch,
	})
	m.metrics.observe(m.committee)
	return nil
}

func (m *Manager) ClearCommittee() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.committee = nil
	m.ppfaIndex = 0
	m.metrics.observe(m.committee)
}

// CurrentCommittee returns the committee in PPFA order.
func (m *Manager) CurrentCommittee() []Member {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.committee)
}

func (m *Manager) CommitteeSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.committee)
}

func (m *Manager) IsInCommittee(nodeID ids.NodeID) bool {
	_, ok := m.Member(nodeID)
	return ok
}

func (m *Manager) Member(nodeID ids.NodeID) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, member := range m.committee {
		if member.NodeID == nodeID {
			return member, true
		}
	}
	return Member{}, false
}

func (m *Manager) PPFAIndexOf(nodeID ids.NodeID) (uint32, bool) {
	member, ok := m.Member(nodeID)
	return member.PPFAIndex, ok
}

// CurrentProposer returns the member at the PPFA index.
func (m *Manager) CurrentProposer() (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if int(m.ppfaIndex) >= len(m.committee) {
		return Member{}, false
	}
	return m.committee[m.ppfaIndex], true
}

// ProposerForSlot returns committee[slot % size].
func (m *Manager) ProposerForSlot(slot uint64) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.committee) == 0 {
		return Member{}, false
	}
	return m.committee[slot%uint64(len(m.committee))], true
}

func (m *Manager) CurrentPPFAIndex() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.ppfaIndex
}

// AdvancePPFAIndex moves the proposer pointer to the next member, wrapping
// around the committee.
func (m *Manager) AdvancePPFAIndex() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.committee) > 0 {
		m.ppfaIndex = (m.ppfaIndex + 1) % uint32(len(m.committee))
	}
}

// SyncPPFAIndex points the proposer pointer at the owner of slot, so that
// CurrentProposer agrees with ProposerForSlot.
func (m *Manager) SyncPPFAIndex(slot uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.committee) > 0 {
		m.ppfaIndex = uint32(slot % uint64(len(m.committee)))
	}
}

func (m *Manager) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.epoch
}

// TotalCommitteeStake sums the stake of every member. It saturates rather
// than wrapping on overflow.
func (m *Manager) TotalCommitteeStake() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return totalStake(m.committee)
}

func totalStake(committee []Member) uint64 {
	var total uint64
	for _, member := range committee {
		sum, err := safemath.Add(total, member.Stake)
		if err != nil {
			return safemath.MaxUint[uint64]()
		}
		total = sum
	}
	return total
}

// StakeOf returns the pooled stake of nodeID, 0 if unknown.
func (m *Manager) StakeOf(nodeID ids.NodeID) uint64 {
	info, _ := m.GetValidator(nodeID)
	return info.Stake
}

// IsStakedValidator reports whether nodeID is pooled and may participate.
func (m *Manager) IsStakedValidator(nodeID ids.NodeID) bool {
	info, ok := m.GetValidator(nodeID)
	return ok && info.CanParticipate()
}

func compareNodeIDs(a, b ids.NodeID) int {
	return bytes.Compare(a[:], b[:])
}
