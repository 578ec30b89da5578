// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import (
	"math"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestVoteCollection(t *testing.T) {
	require := require.New(t)

	blockHash := ids.GenerateTestID()
	first := ids.GenerateTestNodeID()
	second := ids.GenerateTestNodeID()

	c := NewVoteCollection()
	require.NoError(c.Add(newTestVote(blockHash, 1, Prepare, first, 10)))
	require.NoError(c.Add(newTestVote(blockHash, 1, Prepare, second, 20)))

	err := c.Add(newTestVote(blockHash, 1, Prepare, first, 10))
	require.ErrorIs(err, ErrDuplicateVote)

	require.Equal(2, c.Len())
	require.Equal(uint64(30), c.TotalStake())
	require.True(c.Contains(second))
	require.True(c.Voters().Contains(first))
	require.Equal(VoteAggregate{ValidatorCount: 2, TotalStake: 30}, c.Aggregate())

	votes := c.Votes()
	require.Len(votes, 2)
	require.Equal(first, votes[0].Validator)
	require.Equal(second, votes[1].Validator)

	require.False(c.MeetsThreshold(4))
	require.True(c.MeetsThreshold(2))
	require.True(c.MeetsStakeThreshold(45))
	require.False(c.MeetsStakeThreshold(46))

	c.Clear()
	require.Zero(c.Len())
	require.Zero(c.TotalStake())
	require.Empty(c.Votes())
}

func TestVoteCollectionStakeOverflow(t *testing.T) {
	require := require.New(t)

	blockHash := ids.GenerateTestID()
	c := NewVoteCollection()
	require.NoError(c.Add(newTestVote(blockHash, 1, Prepare, ids.GenerateTestNodeID(), math.MaxUint64)))

	err := c.Add(newTestVote(blockHash, 1, Prepare, ids.GenerateTestNodeID(), 1))
	require.ErrorIs(err, ErrInvalidVote)
	require.Equal(1, c.Len())
}

func TestCertificateCollection(t *testing.T) {
	require := require.New(t)

	blockHash := ids.GenerateTestID()
	issuer := ids.GenerateTestNodeID()

	c := NewCertificateCollection()
	require.NoError(c.Add(newTestCertificate(blockHash, 1, Prepare, issuer)))
	require.NoError(c.Add(newTestCertificate(blockHash, 1, Commit, issuer)))

	err := c.Add(newTestCertificate(blockHash, 1, Prepare, issuer))
	require.ErrorIs(err, ErrDuplicateCertificate)

	err = c.Add(newTestCertificate(blockHash, 1, Phase(7), issuer))
	require.ErrorIs(err, ErrInvalidCertificate)

	require.Equal(2, c.Count())
	require.Equal(1, c.CountForPhase(Prepare))
	require.Zero(c.CountForPhase(PreCommit))
	require.Zero(c.CountForPhase(Phase(7)))
	require.Len(c.ForPhase(Commit), 1)
	require.Nil(c.ForPhase(Phase(7)))
	require.Equal(FinalityNone, c.FinalityLevel())
}
