// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package committee

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, config Config) *Manager {
	t.Helper()

	m, err := New(log.NewNoOpLogger(), config, metric.NewRegistry())
	require.NoError(t, err)
	return m
}

func newTestValidator(id byte, stake, reputation uint64) ValidatorInfo {
	info := NewValidatorInfo(ids.BuildTestNodeID([]byte{id}), stake, ValidityNode)
	info.Reputation = reputation
	return info
}

func TestNewInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.Strategy = SelectionStrategy(9)

	_, err := New(log.NewNoOpLogger(), config, metric.NewRegistry())
	require.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestTargetSizeClamped(t *testing.T) {
	tests := []struct {
		target   int
		expected int
	}{
		{target: 1, expected: MinCommitteeSize},
		{target: 21, expected: 21},
		{target: 1000, expected: MaxCommitteeSize},
	}
	for _, test := range tests {
		config := DefaultConfig()
		config.TargetSize = test.target
		m := newTestManager(t, config)
		require.Equal(t, test.expected, m.targetSize)
	}
}

func TestAddRemoveValidator(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, DefaultConfig())
	info := newTestValidator(1, 100_000, 100)
	require.NoError(m.AddValidator(info))
	require.Equal(1, m.PoolSize())

	got, ok := m.GetValidator(info.NodeID)
	require.True(ok)
	require.Equal(info, got)
	require.True(m.IsStakedValidator(info.NodeID))
	require.Equal(uint64(100_000), m.StakeOf(info.NodeID))

	inactive := newTestValidator(2, 100, 100)
	inactive.Active = false
	require.ErrorIs(m.AddValidator(inactive), ErrValidatorCannotParticipate)

	unstaked := newTestValidator(3, 0, 100)
	require.ErrorIs(m.AddValidator(unstaked), ErrValidatorCannotParticipate)

	require.NoError(m.RemoveValidator(info.NodeID))
	require.Zero(m.PoolSize())
	require.ErrorIs(m.RemoveValidator(info.NodeID), ErrValidatorNotFound)
	require.False(m.IsStakedValidator(info.NodeID))
	require.Zero(m.StakeOf(info.NodeID))
}

func TestRotateCommitteeOrdering(t *testing.T) {
	require := require.New(t)

	config := DefaultConfig()
	config.TargetSize = 4
	m := newTestManager(t, config)

	validators := []ValidatorInfo{
		newTestValidator(1, 100, 90),
		newTestValidator(2, 300, 60),
		newTestValidator(3, 200, 100),
		newTestValidator(4, 200, 80),
		newTestValidator(5, 50, 100),
		newTestValidator(6, 1000, 40), // reputation too low
	}
	common := NewValidatorInfo(ids.BuildTestNodeID([]byte{7}), 5000, Common)
	validators = append(validators, common)
	for _, info := range validators {
		require.NoError(m.AddValidator(info))
	}
	require.Equal(5, m.EligibleValidators())
	require.Equal(7, m.ActiveValidators())

	require.NoError(m.RotateCommittee(3))
	require.Equal(uint64(3), m.Epoch())

	committee := m.CurrentCommittee()
	require.Len(committee, 4)
	expected := []ids.NodeID{
		validators[1].NodeID,
		validators[2].NodeID,
		validators[3].NodeID,
		validators[0].NodeID,
	}
	for i, member := range committee {
		require.Equal(expected[i], member.NodeID)
		require.Equal(uint32(i), member.PPFAIndex)
		require.Equal(uint64(3), member.JoinedEpoch)
	}
	require.Equal(uint64(800), m.TotalCommitteeStake())
	require.False(m.IsInCommittee(validators[5].NodeID))
	require.False(m.IsInCommittee(common.NodeID))

	index, ok := m.PPFAIndexOf(validators[3].NodeID)
	require.True(ok)
	require.Equal(uint32(2), index)
}

func TestRotateCommitteeDeterministic(t *testing.T) {
	require := require.New(t)

	build := func() []Member {
		config := DefaultConfig()
		config.Strategy = Hybrid
		m := newTestManager(t, config)
		for i := byte(1); i <= 30; i++ {
			require.NoError(m.AddValidator(newTestValidator(i, uint64(i%5)*100+100, 50+uint64(i%3)*10)))
		}
		require.NoError(m.RotateCommittee(1))
		return m.CurrentCommittee()
	}

	first := build()
	require.Len(first, DefaultCommitteeSize)
	for i := 0; i < 5; i++ {
		require.Equal(first, build())
	}
}

func TestRotateCommitteeNoEligible(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, DefaultConfig())
	require.ErrorIs(m.RotateCommittee(1), ErrNoEligibleValidators)

	require.NoError(m.AddValidator(newTestValidator(1, 100, 10)))
	require.ErrorIs(m.RotateCommittee(1), ErrNoEligibleValidators)
	require.Zero(m.Epoch())
}

func TestPPFARotationWraps(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, DefaultConfig())
	for i := byte(1); i <= 5; i++ {
		require.NoError(m.AddValidator(newTestValidator(i, uint64(i)*100, 100)))
	}
	require.NoError(m.RotateCommittee(1))

	start, ok := m.CurrentProposer()
	require.True(ok)
	require.Equal(uint32(0), start.PPFAIndex)

	for i := 1; i < 5; i++ {
		m.AdvancePPFAIndex()
		proposer, ok := m.CurrentProposer()
		require.True(ok)
		require.Equal(uint32(i), proposer.PPFAIndex)
	}
	m.AdvancePPFAIndex()
	require.Zero(m.CurrentPPFAIndex())

	proposer, ok := m.ProposerForSlot(7)
	require.True(ok)
	require.Equal(uint32(2), proposer.PPFAIndex)
}

func TestSyncPPFAIndex(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, DefaultConfig())
	m.SyncPPFAIndex(7)
	require.Zero(m.CurrentPPFAIndex())

	for i := byte(1); i <= 4; i++ {
		require.NoError(m.AddValidator(newTestValidator(i, uint64(i)*100, 100)))
	}
	require.NoError(m.RotateCommittee(1))

	for _, slot := range []uint64{0, 1, 6, 11} {
		m.SyncPPFAIndex(slot)
		current, ok := m.CurrentProposer()
		require.True(ok)
		expected, ok := m.ProposerForSlot(slot)
		require.True(ok)
		require.Equal(expected, current)
		require.Equal(uint32(slot%4), m.CurrentPPFAIndex())
	}
}

func TestForceAddAndClear(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, DefaultConfig())
	_, ok := m.CurrentProposer()
	require.False(ok)
	_, ok = m.ProposerForSlot(0)
	require.False(ok)

	for i := 0; i < MaxCommitteeSize; i++ {
		require.NoError(m.ForceAddToCommittee(ids.GenerateTestNodeID(), 10))
	}
	require.ErrorIs(m.ForceAddToCommittee(ids.GenerateTestNodeID(), 10), ErrCommitteeFull)
	require.Equal(MaxCommitteeSize, m.CommitteeSize())

	m.AdvancePPFAIndex()
	m.ClearCommittee()
	require.Zero(m.CommitteeSize())
	require.Zero(m.CurrentPPFAIndex())
}

func TestRemoveValidatorFromCommittee(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, DefaultConfig())
	for i := byte(1); i <= 4; i++ {
		require.NoError(m.AddValidator(newTestValidator(i, uint64(i)*100, 100)))
	}
	require.NoError(m.RotateCommittee(1))
	for i := 0; i < 3; i++ {
		m.AdvancePPFAIndex()
	}

	last := m.CurrentCommittee()[3]
	require.NoError(m.RemoveValidator(last.NodeID))
	require.Equal(3, m.CommitteeSize())
	require.Zero(m.CurrentPPFAIndex())
}

func TestUpdateValidator(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, DefaultConfig())
	info := newTestValidator(1, 100, 100)
	require.NoError(m.AddValidator(info))

	require.NoError(m.UpdateValidator(info.NodeID, func(v *ValidatorInfo) {
		v.Reputation = 20
		v.Active = false
	}))
	got, ok := m.GetValidator(info.NodeID)
	require.True(ok)
	require.Equal(uint64(20), got.Reputation)
	require.False(m.IsStakedValidator(info.NodeID))

	err := m.UpdateValidator(ids.GenerateTestNodeID(), func(*ValidatorInfo) {})
	require.ErrorIs(err, ErrValidatorNotFound)
}

func TestSelectionStrategyScore(t *testing.T) {
	info := newTestValidator(1, 1000, 80)
	tests := []struct {
		strategy SelectionStrategy
		expected uint64
	}{
		{strategy: StakeWeighted, expected: 1000},
		{strategy: ReputationWeighted, expected: 800},
		{strategy: Hybrid, expected: 1080},
	}
	for _, test := range tests {
		t.Run(test.strategy.String(), func(t *testing.T) {
			require.Equal(t, test.expected, test.strategy.Score(info).Uint64())
		})
	}
}

func TestPeerTypeEligibility(t *testing.T) {
	require := require.New(t)

	require.False(Common.CanBeInCommittee())
	require.False(StakingCommon.CanBeInCommittee())
	require.True(ValidityNode.CanBeInCommittee())
	require.True(FlareNode.CanBeInCommittee())
	require.True(DecentralizedDirector.CanBeInCommittee())
}
