// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package attestation

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/asf/consensus/hotstuff"
)

func testBridgeConfig() BridgeConfig {
	config := DefaultBridgeConfig()
	config.MinAttestationStake = 100
	return config
}

func newTestBridge(t *testing.T, verifier Verifier) *BridgeSecurityManager {
	t.Helper()

	b, err := NewBridgeSecurityManager(log.NewNoOpLogger(), testBridgeConfig(), verifier, metric.NewRegistry())
	require.NoError(t, err)
	return b
}

func newTestMultiSig(t *testing.T, blockHash ids.ID, stake uint64, level hotstuff.FinalityLevel) *MultiSigAttestation {
	t.Helper()

	m := NewMultiSigAttestation(targetChain, blockHash, 100)
	require.NoError(t, m.AddAttestation(newTestAttestation(1, blockHash, level), stake))
	return m
}

func TestBridgeConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*BridgeConfig)
		err    error
	}{
		{
			name:   "default",
			modify: func(*BridgeConfig) {},
		},
		{
			name:   "zero challenge period",
			modify: func(c *BridgeConfig) { c.ChallengePeriod = 0 },
			err:    ErrInvalidBridgeConfig,
		},
		{
			name:   "weak finality",
			modify: func(c *BridgeConfig) { c.MinFinality = hotstuff.FinalityModerate },
			err:    ErrInvalidBridgeConfig,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := DefaultBridgeConfig()
			test.modify(&config)
			require.ErrorIs(t, config.Validate(), test.err)
		})
	}
}

func TestSubmitAttestation(t *testing.T) {
	tests := []struct {
		name  string
		stake uint64
		level hotstuff.FinalityLevel
		err   error
	}{
		{
			name:  "accepted",
			stake: 100,
			level: hotstuff.FinalityStrong,
		},
		{
			name:  "insufficient stake",
			stake: 99,
			level: hotstuff.FinalityIrreversible,
			err:   ErrInsufficientStake,
		},
		{
			name:  "insufficient finality",
			stake: 100,
			level: hotstuff.FinalityModerate,
			err:   ErrInsufficientFinality,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			b := newTestBridge(t, nil)
			blockHash := ids.GenerateTestID()
			err := b.SubmitAttestation(newTestMultiSig(t, blockHash, test.stake, test.level), 10)
			require.ErrorIs(err, test.err)

			record, ok := b.Pending(blockHash)
			require.Equal(test.err == nil, ok)
			if ok {
				require.Equal(uint64(10), record.SubmittedAt)
				require.Equal(uint64(10+DefaultChallengePeriod), record.ChallengeDeadline)
				require.False(record.Challenged)
			}
		})
	}
}

func TestSubmitEmptyAttestation(t *testing.T) {
	config := testBridgeConfig()
	config.MinAttestationStake = 0
	b, err := NewBridgeSecurityManager(log.NewNoOpLogger(), config, nil, metric.NewRegistry())
	require.NoError(t, err)

	err = b.SubmitAttestation(NewMultiSigAttestation(targetChain, ids.GenerateTestID(), 1), 0)
	require.ErrorIs(t, err, ErrNoAttestations)
}

func TestSubmitDuplicate(t *testing.T) {
	require := require.New(t)

	b := newTestBridge(t, nil)
	blockHash := ids.GenerateTestID()
	require.NoError(b.SubmitAttestation(newTestMultiSig(t, blockHash, 100, hotstuff.FinalityStrong), 0))
	require.ErrorIs(b.SubmitAttestation(newTestMultiSig(t, blockHash, 100, hotstuff.FinalityStrong), 1), ErrDuplicateAttestation)

	require.NoError(b.FinalizeAttestation(blockHash, DefaultChallengePeriod))
	require.ErrorIs(b.SubmitAttestation(newTestMultiSig(t, blockHash, 100, hotstuff.FinalityStrong), 200), ErrDuplicateAttestation)
}

func TestChallengeWindow(t *testing.T) {
	tests := []struct {
		name       string
		relayBlock uint64
		err        error
	}{
		{
			name:       "at submission",
			relayBlock: 10,
		},
		{
			name:       "at deadline",
			relayBlock: 10 + DefaultChallengePeriod,
		},
		{
			name:       "after deadline",
			relayBlock: 11 + DefaultChallengePeriod,
			err:        ErrChallengePeriodExpired,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			b := newTestBridge(t, nil)
			blockHash := ids.GenerateTestID()
			require.NoError(b.SubmitAttestation(newTestMultiSig(t, blockHash, 100, hotstuff.FinalityStrong), 10))
			require.ErrorIs(b.ChallengeAttestation(blockHash, test.relayBlock), test.err)
		})
	}
}

func TestChallengeErrors(t *testing.T) {
	require := require.New(t)

	b := newTestBridge(t, nil)
	require.ErrorIs(b.ChallengeAttestation(ids.GenerateTestID(), 0), ErrAttestationNotFound)

	blockHash := ids.GenerateTestID()
	require.NoError(b.SubmitAttestation(newTestMultiSig(t, blockHash, 100, hotstuff.FinalityStrong), 0))
	require.NoError(b.ChallengeAttestation(blockHash, 1))
	require.ErrorIs(b.ChallengeAttestation(blockHash, 2), ErrAlreadyChallenged)
}

func TestFinalizeAttestation(t *testing.T) {
	require := require.New(t)

	b := newTestBridge(t, nil)
	blockHash := ids.GenerateTestID()
	m := newTestMultiSig(t, blockHash, 100, hotstuff.FinalityStrong)
	require.NoError(b.SubmitAttestation(m, 0))

	require.ErrorIs(b.FinalizeAttestation(blockHash, DefaultChallengePeriod-1), ErrChallengePeriodActive)
	_, ok := b.Pending(blockHash)
	require.True(ok)

	require.NoError(b.FinalizeAttestation(blockHash, DefaultChallengePeriod))
	finalized, ok := b.Finalized(blockHash)
	require.True(ok)
	require.Equal(m, finalized)
	_, ok = b.Pending(blockHash)
	require.False(ok)

	require.ErrorIs(b.FinalizeAttestation(blockHash, DefaultChallengePeriod), ErrAttestationNotFound)
}

func TestChallengedNeverFinalized(t *testing.T) {
	require := require.New(t)

	b := newTestBridge(t, nil)
	blockHash := ids.GenerateTestID()
	require.NoError(b.SubmitAttestation(newTestMultiSig(t, blockHash, 100, hotstuff.FinalityStrong), 0))
	require.NoError(b.ChallengeAttestation(blockHash, 50))

	for _, relayBlock := range []uint64{DefaultChallengePeriod, 10 * DefaultChallengePeriod} {
		require.ErrorIs(b.FinalizeAttestation(blockHash, relayBlock), hotstuff.ErrSafetyViolation)
		require.Empty(b.ProcessExpired(relayBlock))
	}

	record, ok := b.Pending(blockHash)
	require.True(ok)
	require.True(record.Challenged)
	_, ok = b.Finalized(blockHash)
	require.False(ok)
}

func TestProcessExpired(t *testing.T) {
	require := require.New(t)

	b := newTestBridge(t, nil)
	early := ids.GenerateTestID()
	late := ids.GenerateTestID()
	challenged := ids.GenerateTestID()
	require.NoError(b.SubmitAttestation(newTestMultiSig(t, early, 100, hotstuff.FinalityStrong), 0))
	require.NoError(b.SubmitAttestation(newTestMultiSig(t, late, 100, hotstuff.FinalityStrong), 50))
	require.NoError(b.SubmitAttestation(newTestMultiSig(t, challenged, 100, hotstuff.FinalityStrong), 0))
	require.NoError(b.ChallengeAttestation(challenged, 1))

	require.Empty(b.ProcessExpired(DefaultChallengePeriod - 1))
	require.Equal([]ids.ID{early}, b.ProcessExpired(DefaultChallengePeriod))
	require.Equal([]ids.ID{late}, b.ProcessExpired(DefaultChallengePeriod+50))

	require.Equal(2, b.FinalizedCount())
	require.Equal(1, b.PendingCount())
}

func TestSubmitVerifiesSignatures(t *testing.T) {
	require := require.New(t)

	keys := keyring{}
	b := newTestBridge(t, NewSignatureVerifier(keys, 0))
	blockHash := ids.GenerateTestID()

	signed := NewMultiSigAttestation(targetChain, blockHash, 100)
	require.NoError(signed.AddAttestation(newSignedAttestation(t, keys, 1, blockHash), 100))
	require.NoError(b.SubmitAttestation(signed, 0))

	other := ids.GenerateTestID()
	unsigned := newTestMultiSig(t, other, 100, hotstuff.FinalityStrong)
	require.ErrorIs(b.SubmitAttestation(unsigned, 0), ErrMissingSignature)
	_, ok := b.Pending(other)
	require.False(ok)
}

type testLedger map[ids.NodeID]uint64

func (l testLedger) StakeOf(nodeID ids.NodeID) uint64 {
	return l[nodeID]
}

func (l testLedger) IsStakedValidator(nodeID ids.NodeID) bool {
	return l[nodeID] > 0
}

func TestSubmitAttestationLedgerStake(t *testing.T) {
	tests := []struct {
		name  string
		stake uint64
		err   error
	}{
		{
			name:  "registered stake",
			stake: 150,
		},
		{
			name:  "inflated stake",
			stake: 10_000,
			err:   ErrUnregisteredStake,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			b := newTestBridge(t, nil)
			b.ConnectLedger(testLedger{nodeID(1): 150})

			blockHash := ids.GenerateTestID()
			err := b.SubmitAttestation(newTestMultiSig(t, blockHash, test.stake, hotstuff.FinalityStrong), 0)
			require.ErrorIs(err, test.err)
			require.Equal(test.err == nil, b.PendingCount() == 1)
		})
	}
}

func TestSubmitAttestationUnstakedAttester(t *testing.T) {
	require := require.New(t)

	b := newTestBridge(t, nil)
	b.ConnectLedger(testLedger{nodeID(1): 150})

	blockHash := ids.GenerateTestID()
	m := newTestMultiSig(t, blockHash, 150, hotstuff.FinalityStrong)
	require.NoError(m.AddAttestation(newTestAttestation(2, blockHash, hotstuff.FinalityStrong), 50))

	require.ErrorIs(b.SubmitAttestation(m, 0), ErrUnregisteredStake)
	require.Zero(b.PendingCount())
}

func TestSubmitAttestationWeakAttesterNotHidden(t *testing.T) {
	require := require.New(t)

	b := newTestBridge(t, nil)
	blockHash := ids.GenerateTestID()
	m := newTestMultiSig(t, blockHash, 1_000, hotstuff.FinalityWeak)
	require.Equal(hotstuff.FinalityWeak, m.MinFinality())

	require.ErrorIs(b.SubmitAttestation(m, 0), ErrInsufficientFinality)
	require.Zero(b.PendingCount())
}

func TestSubmitAttestationRetargeted(t *testing.T) {
	require := require.New(t)

	b := newTestBridge(t, nil)
	m := newTestMultiSig(t, ids.GenerateTestID(), 100, hotstuff.FinalityStrong)
	m.TargetBlockHash = ids.GenerateTestID()

	require.ErrorIs(b.SubmitAttestation(m, 0), ErrAttestationMismatch)
	require.Zero(b.PendingCount())
}
