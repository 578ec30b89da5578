// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package asf

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/crypto/bls/signer/localsigner"
	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/asf/consensus/attestation"
	"github.com/luxfi/asf/consensus/byzantine"
	"github.com/luxfi/asf/consensus/committee"
	"github.com/luxfi/asf/consensus/eclipse"
	"github.com/luxfi/asf/consensus/hotstuff"
	"github.com/luxfi/asf/consensus/longrange"
	"github.com/luxfi/asf/consensus/signer"
)

const testStake = 1_000

var testGenesisTime = time.Unix(1_700_000_000, 0)

func testConfig() Config {
	config := DefaultConfig()
	config.HotStuff.Epoch = 1
	config.Bridge.MinAttestationStake = 1
	config.Bridge.ChallengePeriod = 10
	config.StallTimeout = time.Minute
	return config
}

func testNodeIDs(n int) []ids.NodeID {
	nodeIDs := make([]ids.NodeID, n)
	for i := range nodeIDs {
		nodeIDs[i] = ids.BuildTestNodeID([]byte{byte(i + 1)})
	}
	return nodeIDs
}

func testGenesis(nodeIDs []ids.NodeID) Genesis {
	validators := make([]committee.ValidatorInfo, len(nodeIDs))
	for i, nodeID := range nodeIDs {
		validators[i] = committee.NewValidatorInfo(nodeID, testStake, committee.ValidityNode)
	}
	return Genesis{
		Time:       testGenesisTime,
		BlockHash:  ids.ID{1},
		Validators: validators,
	}
}

func newTestFinality(t *testing.T, config Config, nodeIDs []ids.NodeID, db database.Database) *Finality {
	t.Helper()

	f, err := New(log.NewNoOpLogger(), config, testGenesis(nodeIDs), Deps{DB: db})
	require.NoError(t, err)
	return f
}

func testVote(blockHash ids.ID, blockNumber uint64, phase hotstuff.Phase, nodeID ids.NodeID) *hotstuff.Vote {
	return &hotstuff.Vote{
		BlockHash:   blockHash,
		BlockNumber: blockNumber,
		Phase:       phase,
		Validator:   nodeID,
		StakeWeight: testStake,
		Epoch:       1,
	}
}

// finalize drives a block through Prepare, PreCommit and Commit with votes
// from the given validators.
func finalize(t *testing.T, f *Finality, voters []ids.NodeID, blockHash ids.ID, blockNumber uint64) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, f.ProposeBlock(ctx, blockHash, blockNumber))
	for _, phase := range []hotstuff.Phase{hotstuff.Prepare, hotstuff.PreCommit, hotstuff.Commit} {
		var cert *hotstuff.Certificate
		for _, nodeID := range voters {
			var err error
			cert, err = f.ProcessVote(ctx, testVote(blockHash, blockNumber, phase, nodeID), "")
			require.NoError(t, err)
		}
		require.NotNil(t, cert)
	}
	require.True(t, f.IsFinalized(blockHash))
}

func TestNewInvalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		db     database.Database
		err    error
	}{
		{
			name:   "zero slot duration",
			modify: func(c *Config) { c.SlotDuration = 0 },
			db:     memdb.New(),
			err:    ErrInvalidConfig,
		},
		{
			name:   "zero base timeout",
			modify: func(c *Config) { c.HotStuff.BaseTimeout = 0 },
			db:     memdb.New(),
			err:    hotstuff.ErrInvalidTimeout,
		},
		{
			name:   "zero challenge period",
			modify: func(c *Config) { c.Bridge.ChallengePeriod = 0 },
			db:     memdb.New(),
			err:    attestation.ErrInvalidBridgeConfig,
		},
		{
			name:   "missing database",
			modify: func(*Config) {},
			err:    ErrMissingDatabase,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := testConfig()
			test.modify(&config)
			_, err := New(log.NewNoOpLogger(), config, testGenesis(testNodeIDs(4)), Deps{DB: test.db})
			require.ErrorIs(t, err, test.err)
		})
	}
}

func TestGenesisCommittee(t *testing.T) {
	require := require.New(t)

	nodeIDs := testNodeIDs(4)
	f := newTestFinality(t, testConfig(), nodeIDs, memdb.New())

	members := f.CurrentCommittee()
	require.Len(members, 4)
	require.Equal(uint64(1), f.Engine().Epoch())

	f.Clock().Set(testGenesisTime)
	proposer, ok := f.CurrentProposer()
	require.True(ok)
	require.Equal(members[0].NodeID, proposer.NodeID)

	for _, nodeID := range nodeIDs {
		require.True(f.IsValidatorAllowed(nodeID, 0))
	}
}

func TestCurrentProposerFollowsSlot(t *testing.T) {
	require := require.New(t)

	f := newTestFinality(t, testConfig(), testNodeIDs(4), memdb.New())
	members := f.CurrentCommittee()
	duration := f.Scheduler().Duration()

	for _, slot := range []uint64{1, 2, 3, 4, 9} {
		start := f.Scheduler().StartOf(slot)
		f.Clock().Set(start)
		expected := members[slot%4]

		proposer, ok := f.CurrentProposer()
		require.True(ok)
		require.Equal(expected.NodeID, proposer.NodeID, "slot %d", slot)
		require.Equal(DutyQueen, f.ProposerDuty(slot, proposer.NodeID, start))

		require.Equal(slot, f.SyncSlot())
		synced, ok := f.Committee().CurrentProposer()
		require.True(ok)
		require.Equal(expected.NodeID, synced.NodeID)
		require.Equal(expected.PPFAIndex, f.Committee().CurrentPPFAIndex())
	}

	f.Clock().Set(f.Scheduler().StartOf(5).Add(duration - time.Millisecond))
	proposer, ok := f.CurrentProposer()
	require.True(ok)
	require.Equal(members[1].NodeID, proposer.NodeID)
}

func TestRotateEpochWithoutValidators(t *testing.T) {
	require := require.New(t)

	f := newTestFinality(t, testConfig(), nil, memdb.New())
	require.Empty(f.CurrentCommittee())

	err := f.RotateEpoch(2)
	require.ErrorIs(err, committee.ErrNoEligibleValidators)
	require.Equal(uint64(1), f.Engine().Epoch())
}

func TestRotateEpoch(t *testing.T) {
	require := require.New(t)

	nodeIDs := testNodeIDs(5)
	f := newTestFinality(t, testConfig(), nodeIDs[:4], memdb.New())

	require.NoError(f.Committee().AddValidator(committee.NewValidatorInfo(nodeIDs[4], 2*testStake, committee.ValidityNode)))
	require.NoError(f.RotateEpoch(2))

	require.Equal(uint64(2), f.Engine().Epoch())
	members := f.CurrentCommittee()
	require.Len(members, 5)
	require.Equal(nodeIDs[4], members[0].NodeID)
	require.Equal(uint64(6*testStake), f.Committee().TotalCommitteeStake())
}

func TestFinalizeBlock(t *testing.T) {
	require := require.New(t)

	nodeIDs := testNodeIDs(4)
	f := newTestFinality(t, testConfig(), nodeIDs, memdb.New())

	blockHash := ids.GenerateTestID()
	finalize(t, f, nodeIDs[:3], blockHash, 1)

	require.Equal(uint64(1), f.Height())
	require.Equal(hotstuff.FinalityNone, f.FinalityLevel(blockHash))
	require.Equal(uint64(1), f.Liveness().LastFinalized())

	// Every member was expected to sign the new checkpoint.
	for _, nodeID := range nodeIDs {
		seen, signed, ok := f.Tracker().ParticipationStats(nodeID)
		require.True(ok)
		require.Equal(uint32(1), seen)
		require.Zero(signed)
	}

	// Finalized blocks take no more votes.
	_, err := f.ProcessVote(context.Background(), testVote(blockHash, 1, hotstuff.Decide, nodeIDs[3]), "")
	require.ErrorIs(err, hotstuff.ErrBlockFinalized)
}

func TestLateVoteRejected(t *testing.T) {
	require := require.New(t)

	nodeIDs := testNodeIDs(4)
	f := newTestFinality(t, testConfig(), nodeIDs, memdb.New())
	ctx := context.Background()

	blockHash := ids.GenerateTestID()
	require.NoError(f.ProposeBlock(ctx, blockHash, 1))
	for _, nodeID := range nodeIDs[:3] {
		_, err := f.ProcessVote(ctx, testVote(blockHash, 1, hotstuff.Prepare, nodeID), "")
		require.NoError(err)
	}

	_, err := f.ProcessVote(ctx, testVote(blockHash, 1, hotstuff.Prepare, nodeIDs[3]), "")
	require.ErrorIs(err, hotstuff.ErrInvalidPhaseTransition)

	// A late vote is not misbehavior.
	_, ok := f.Detector().Record(nodeIDs[3])
	require.False(ok)
}

func TestMissedCheckpoints(t *testing.T) {
	require := require.New(t)

	nodeIDs := testNodeIDs(4)
	f := newTestFinality(t, testConfig(), nodeIDs, memdb.New())

	first := ids.GenerateTestID()
	finalize(t, f, nodeIDs[:3], first, 1)
	for _, nodeID := range nodeIDs[:2] {
		_, err := f.ObserveSignature(byzantine.SignedCheckpoint{
			NodeID:         nodeID,
			BlockNumber:    1,
			BlockHash:      first,
			AuthoritySetID: 1,
		}, "")
		require.NoError(err)
	}

	finalize(t, f, nodeIDs[:3], ids.GenerateTestID(), 2)

	for i, nodeID := range nodeIDs {
		seen, signed, ok := f.Tracker().ParticipationStats(nodeID)
		require.True(ok)
		require.Equal(uint32(2), seen)
		if i < 2 {
			require.Equal(uint32(1), signed)
		} else {
			require.Zero(signed)
		}
	}
}

func TestObserveSignatureEquivocation(t *testing.T) {
	require := require.New(t)

	nodeIDs := testNodeIDs(4)
	f := newTestFinality(t, testConfig(), nodeIDs, memdb.New())

	sig := byzantine.SignedCheckpoint{
		NodeID:         nodeIDs[0],
		BlockNumber:    5,
		BlockHash:      ids.GenerateTestID(),
		AuthoritySetID: 1,
		Signature:      []byte{1},
	}
	evidence, err := f.ObserveSignature(sig, "peer-1")
	require.NoError(err)
	require.Nil(evidence)

	// The same signature again changes nothing.
	evidence, err = f.ObserveSignature(sig, "peer-2")
	require.NoError(err)
	require.Nil(evidence)
	_, signed, _ := f.Tracker().ParticipationStats(nodeIDs[0])
	require.Equal(uint32(1), signed)

	conflicting := sig
	conflicting.BlockHash = ids.GenerateTestID()
	conflicting.Signature = []byte{2}
	evidence, err = f.ObserveSignature(conflicting, "peer-1")
	require.ErrorIs(err, byzantine.ErrEquivocation)
	require.NotNil(evidence)
	require.Equal(sig.BlockHash, evidence.BlockHash1)
	require.Equal(conflicting.BlockHash, evidence.BlockHash2)
	require.True(f.Tracker().IsConfirmedByzantine(nodeIDs[0]))

	result, err := f.Maintain()
	require.NoError(err)
	require.Equal(1, result.Slashed)
	require.True(f.Accountability().IsSlashed(nodeIDs[0]))
	require.False(f.IsValidatorAllowed(nodeIDs[0], 5))

	record, ok := f.Exclusions().Exclusion(nodeIDs[0])
	require.True(ok)
	require.Equal(byzantine.Equivocation, record.Reason)

	next := sig
	next.BlockNumber = 6
	_, err = f.ObserveSignature(next, "peer-1")
	require.ErrorIs(err, hotstuff.ErrValidatorExcluded)
}

func TestObserveSignatureExpiredAuthoritySet(t *testing.T) {
	require := require.New(t)

	nodeIDs := testNodeIDs(4)
	f := newTestFinality(t, testConfig(), nodeIDs, memdb.New())
	require.NoError(f.Protection().ExpireAuthoritySet(3))

	_, err := f.ObserveSignature(byzantine.SignedCheckpoint{
		NodeID:         nodeIDs[0],
		BlockNumber:    1,
		BlockHash:      ids.GenerateTestID(),
		AuthoritySetID: 3,
	}, "")
	require.ErrorIs(err, longrange.ErrAuthoritySetExpired)
	require.False(f.Accountability().HasSignedAtHeight(nodeIDs[0], 1))
}

func TestDuplicateVotesExcludeValidator(t *testing.T) {
	require := require.New(t)

	config := testConfig()
	config.SuspicionThreshold = 2
	config.Exclusion.AutoExcludeThreshold = 2

	nodeIDs := testNodeIDs(4)
	f := newTestFinality(t, config, nodeIDs, memdb.New())
	ctx := context.Background()

	blockHash := ids.GenerateTestID()
	require.NoError(f.ProposeBlock(ctx, blockHash, 1))
	vote := testVote(blockHash, 1, hotstuff.Prepare, nodeIDs[0])
	_, err := f.ProcessVote(ctx, vote, "")
	require.NoError(err)
	for range 2 {
		_, err = f.ProcessVote(ctx, vote, "")
		require.ErrorIs(err, hotstuff.ErrDuplicateVote)
	}
	require.True(f.Detector().IsByzantine(nodeIDs[0]))

	result, err := f.Maintain()
	require.NoError(err)
	require.Equal(1, result.Excluded)
	require.False(f.IsValidatorAllowed(nodeIDs[0], 1))

	// Suspicion is cleared once acted upon.
	_, ok := f.Detector().Record(nodeIDs[0])
	require.False(ok)

	next := ids.GenerateTestID()
	require.NoError(f.ProposeBlock(ctx, next, 2))
	_, err = f.ProcessVote(ctx, testVote(next, 2, hotstuff.Prepare, nodeIDs[0]), "")
	require.ErrorIs(err, hotstuff.ErrValidatorExcluded)
}

func TestMaintainRetriesFailedExclusion(t *testing.T) {
	require := require.New(t)

	nodeIDs := testNodeIDs(4)
	db := memdb.New()
	f := newTestFinality(t, testConfig(), nodeIDs, db)

	sig := byzantine.SignedCheckpoint{
		NodeID:         nodeIDs[0],
		BlockNumber:    5,
		BlockHash:      ids.GenerateTestID(),
		AuthoritySetID: 1,
		Signature:      []byte{1},
	}
	_, err := f.ObserveSignature(sig, "")
	require.NoError(err)
	conflicting := sig
	conflicting.BlockHash = ids.GenerateTestID()
	conflicting.Signature = []byte{2}
	_, err = f.ObserveSignature(conflicting, "")
	require.ErrorIs(err, byzantine.ErrEquivocation)

	// Exclusions cannot be persisted, so the evidence waits for a later pass.
	require.NoError(db.Close())
	for range 2 {
		result, err := f.Maintain()
		require.ErrorIs(err, database.ErrClosed)
		require.Zero(result.Slashed)

		pending := f.Accountability().PendingEquivocations()
		require.Len(pending, 1)
		require.Equal(nodeIDs[0], pending[0].NodeID)
		require.False(f.Accountability().IsSlashed(nodeIDs[0]))
	}
}

func TestMaintainPrunesHistory(t *testing.T) {
	require := require.New(t)

	config := testConfig()
	config.KeepCheckpoints = 2
	nodeIDs := testNodeIDs(4)
	f := newTestFinality(t, config, nodeIDs, memdb.New())

	hashes := make([]ids.ID, 5)
	for i := range hashes {
		hashes[i] = ids.GenerateTestID()
		finalize(t, f, nodeIDs[:3], hashes[i], uint64(i+1))
	}
	for i := range eclipse.MaxWarnings + 10 {
		f.Eclipse().ValidateSignatureDiversity(nodeIDs[0], uint64(i), ids.GenerateTestID(), "peer-1")
	}
	require.Len(f.Eclipse().RecentWarnings(2*eclipse.MaxWarnings), eclipse.MaxWarnings+10)

	_, err := f.Maintain()
	require.NoError(err)

	// Heights below 5-2 are forgotten.
	require.Len(f.Eclipse().RecentWarnings(2*eclipse.MaxWarnings), eclipse.MaxWarnings)
	require.Equal(3, f.safety.FinalizedCount())
	require.True(f.safety.IsPruned(2))
	require.False(f.safety.IsFinalized(hashes[1]))
	require.True(f.safety.IsFinalized(hashes[2]))
}

func TestExclusionsSurviveRestart(t *testing.T) {
	require := require.New(t)

	nodeIDs := testNodeIDs(4)
	db := memdb.New()
	f := newTestFinality(t, testConfig(), nodeIDs, db)
	_, err := f.Exclusions().ExcludeValidator(nodeIDs[1], byzantine.ManualBan, 0)
	require.NoError(err)

	restarted := newTestFinality(t, testConfig(), nodeIDs, db)
	require.False(restarted.IsValidatorAllowed(nodeIDs[1], 1))
	require.True(restarted.IsValidatorAllowed(nodeIDs[0], 1))
}

func TestInvalidSignatureRaisesSuspicion(t *testing.T) {
	require := require.New(t)

	scheme := signer.NewScheme()
	signers := make([]*signer.Signer, 4)
	nodeIDs := make([]ids.NodeID, len(signers))
	for i := range signers {
		sk, err := localsigner.New()
		require.NoError(err)
		signers[i] = signer.New(ids.GenerateTestNodeID(), sk)
		nodeIDs[i] = signers[i].NodeID()
		scheme.Register(nodeIDs[i], signers[i].PublicKey())
	}

	f, err := New(log.NewNoOpLogger(), testConfig(), testGenesis(nodeIDs), Deps{
		DB:     memdb.New(),
		Scheme: scheme,
	})
	require.NoError(err)
	ctx := context.Background()

	blockHash := ids.GenerateTestID()
	require.NoError(f.ProposeBlock(ctx, blockHash, 1))

	valid := testVote(blockHash, 1, hotstuff.Prepare, nodeIDs[0])
	require.NoError(signers[0].SignVote(valid))
	_, err = f.ProcessVote(ctx, valid, "")
	require.NoError(err)

	// Signed by one validator, claimed by another.
	forged := testVote(blockHash, 1, hotstuff.Prepare, nodeIDs[2])
	require.NoError(signers[1].SignVote(forged))
	forged.Validator = nodeIDs[2]
	_, err = f.ProcessVote(ctx, forged, "")
	require.ErrorIs(err, hotstuff.ErrInvalidSignature)

	record, ok := f.Detector().Record(nodeIDs[2])
	require.True(ok)
	require.Equal(uint32(1), record.IncidentCount)
	require.Equal([]byzantine.SuspicionReason{byzantine.InvalidSignature}, record.Reasons)
}

func TestRemoteCertificateNeedsSourceDiversity(t *testing.T) {
	require := require.New(t)

	nodeIDs := testNodeIDs(4)
	f := newTestFinality(t, testConfig(), nodeIDs, memdb.New())
	ctx := context.Background()

	blockHash := ids.GenerateTestID()
	require.NoError(f.ProposeBlock(ctx, blockHash, 1))

	cert := &hotstuff.Certificate{
		BlockHash:   blockHash,
		BlockNumber: 1,
		Phase:       hotstuff.Prepare,
		Issuer:      nodeIDs[0],
		IssuerStake: testStake,
		Epoch:       1,
		Aggregate: hotstuff.VoteAggregate{
			ValidatorCount: 3,
			TotalStake:     3 * testStake,
		},
		Signers: nodeIDs[:3],
	}
	err := f.ProcessCertificate(ctx, cert, "peer-1")
	require.ErrorIs(err, eclipse.ErrLowSourceDiversity)

	for i, nodeID := range nodeIDs {
		f.Eclipse().ValidateSignatureDiversity(nodeID, 1, blockHash, "peer-"+string(rune('a'+i)))
	}
	f.Eclipse().ValidateSignatureDiversity(nodeIDs[0], 1, blockHash, "peer-e")
	require.NoError(f.ProcessCertificate(ctx, cert, "peer-1"))

	certs := f.Engine().Certificates(blockHash)
	require.Len(certs, 1)
}

func TestBridgeAttestationLifecycle(t *testing.T) {
	require := require.New(t)

	nodeIDs := testNodeIDs(4)
	f := newTestFinality(t, testConfig(), nodeIDs, memdb.New())
	ctx := context.Background()

	target := ids.GenerateTestID()
	multi := attestation.NewMultiSigAttestation(ids.GenerateTestID(), target, 42)
	require.NoError(multi.AddAttestation(attestation.NewCrossChainAttestation(
		ids.GenerateTestID(),
		multi.TargetChain,
		target,
		42,
		hotstuff.FinalityIrreversible,
		nodeIDs[0],
		0,
	), testStake))

	require.NoError(f.SubmitAttestation(multi))
	require.ErrorIs(f.FinalizeAttestation(target), attestation.ErrChallengePeriodActive)

	_, ok := f.GetFinalizedAttestation(target)
	require.False(ok)

	require.NoError(f.ProposeBlock(ctx, ids.GenerateTestID(), 10))
	result, err := f.Maintain()
	require.NoError(err)
	require.Equal(1, result.FinalizedBridge)

	finalized, ok := f.GetFinalizedAttestation(target)
	require.True(ok)
	require.Equal(target, finalized.TargetBlockHash)
}

func TestCheckLiveness(t *testing.T) {
	require := require.New(t)

	nodeIDs := testNodeIDs(4)
	config := testConfig()
	f := newTestFinality(t, config, nodeIDs, memdb.New())
	ctx := context.Background()

	finalized := ids.GenerateTestID()
	finalize(t, f, nodeIDs[:3], finalized, 1)

	stuck := ids.GenerateTestID()
	require.NoError(f.ProposeBlock(ctx, stuck, 2))
	for _, nodeID := range nodeIDs[:3] {
		_, err := f.ProcessVote(ctx, testVote(stuck, 2, hotstuff.Prepare, nodeID), "")
		require.NoError(err)
	}
	snapshot, ok := f.Engine().State(stuck)
	require.True(ok)
	require.Equal(hotstuff.PreCommit, snapshot.Phase)

	require.Zero(f.CheckLiveness(ctx))

	f.Clock().Advance(config.StallTimeout + time.Second)
	require.Equal(1, f.CheckLiveness(ctx))

	snapshot, ok = f.Engine().State(stuck)
	require.True(ok)
	require.Equal(hotstuff.Prepare, snapshot.Phase)
	require.True(f.IsFinalized(finalized))
	require.Equal(1, f.Liveness().ViewChanges())
}

func TestStartStop(t *testing.T) {
	require := require.New(t)

	config := testConfig()
	config.MaintenanceInterval = time.Millisecond
	f := newTestFinality(t, config, testNodeIDs(4), memdb.New())

	ctx := context.Background()
	require.NoError(f.Start(ctx))
	require.ErrorIs(f.Start(ctx), ErrAlreadyRunning)
	time.Sleep(5 * time.Millisecond)
	require.NoError(f.Stop())
	require.NoError(f.Stop())

	require.NoError(f.Start(ctx))
	require.NoError(f.Stop())
}
