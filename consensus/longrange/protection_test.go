// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package longrange

import (
	"testing"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/asf/utils/timer/mockable"
)

var genesisHash = ids.ID{'g', 'e', 'n', 'e', 's', 'i', 's'}

func newTestProtection(t *testing.T, config Config, db database.Database) *Protection {
	t.Helper()

	p, err := New(log.NewNoOpLogger(), config, Genesis(genesisHash), db, nil)
	require.NoError(t, err)
	return p
}

func anchor(number, setID uint64) Anchor {
	return Anchor{
		BlockNumber:    number,
		BlockHash:      ids.ID{byte(number), byte(number >> 8)},
		AuthoritySetID: setID,
	}
}

func TestAddSocialCheckpoint(t *testing.T) {
	tests := []struct {
		name   string
		anchor Anchor
		err    error
	}{
		{
			name:   "extends both",
			anchor: anchor(200, 2),
		},
		{
			name:   "same block",
			anchor: anchor(100, 2),
			err:    ErrNonMonotonicAnchor,
		},
		{
			name:   "older block",
			anchor: anchor(50, 2),
			err:    ErrNonMonotonicAnchor,
		},
		{
			name:   "same authority set",
			anchor: anchor(200, 1),
			err:    ErrNonMonotonicAnchor,
		},
		{
			name:   "older authority set",
			anchor: anchor(200, 0),
			err:    ErrNonMonotonicAnchor,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			p := newTestProtection(t, DefaultConfig(), memdb.New())
			require.NoError(p.AddSocialCheckpoint(anchor(100, 1)))

			err := p.AddSocialCheckpoint(test.anchor)
			require.ErrorIs(err, test.err)

			latest, ok := p.LatestSocialCheckpoint()
			require.True(ok)
			if test.err == nil {
				require.Equal(test.anchor, latest)
			} else {
				require.Equal(anchor(100, 1), latest)
			}
		})
	}
}

func TestFirstAnchorMustExtendGenesis(t *testing.T) {
	require := require.New(t)

	p := newTestProtection(t, DefaultConfig(), memdb.New())
	require.ErrorIs(p.AddSocialCheckpoint(anchor(0, 1)), ErrNonMonotonicAnchor)
	require.ErrorIs(p.AddSocialCheckpoint(anchor(10, 0)), ErrNonMonotonicAnchor)
	require.NoError(p.AddSocialCheckpoint(anchor(10, 1)))

	_, ok := newTestProtection(t, DefaultConfig(), memdb.New()).LatestSocialCheckpoint()
	require.False(ok)
}

func TestSocialCheckpointsCapped(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	p := newTestProtection(t, Config{MaxSocialCheckpoints: 3}, db)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(p.AddSocialCheckpoint(anchor(i*10, i)))
	}

	anchors := p.SocialCheckpoints()
	require.Equal([]Anchor{anchor(30, 3), anchor(40, 4), anchor(50, 5)}, anchors)

	reloaded := newTestProtection(t, Config{MaxSocialCheckpoints: 3}, db)
	require.Equal(anchors, reloaded.SocialCheckpoints())
}

func TestVerifyChainHistory(t *testing.T) {
	p := newTestProtection(t, DefaultConfig(), memdb.New())
	require.NoError(t, p.AddSocialCheckpoint(anchor(100, 1)))
	require.NoError(t, p.AddSocialCheckpoint(anchor(200, 2)))

	tests := []struct {
		name  string
		chain []BlockRef
		err   error
	}{
		{
			name: "matches",
			chain: []BlockRef{
				{Number: 0, Hash: genesisHash},
				{Number: 100, Hash: anchor(100, 1).BlockHash},
				{Number: 200, Hash: anchor(200, 2).BlockHash},
			},
		},
		{
			name: "missing anchored block",
			chain: []BlockRef{
				{Number: 0, Hash: genesisHash},
				{Number: 100, Hash: anchor(100, 1).BlockHash},
			},
		},
		{
			name: "genesis mismatch",
			chain: []BlockRef{
				{Number: 0, Hash: ids.GenerateTestID()},
			},
			err: ErrGenesisMismatch,
		},
		{
			name: "anchor mismatch",
			chain: []BlockRef{
				{Number: 0, Hash: genesisHash},
				{Number: 100, Hash: anchor(100, 1).BlockHash},
				{Number: 200, Hash: ids.GenerateTestID()},
			},
			err: ErrAnchorMismatch,
		},
		{
			name: "empty",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.ErrorIs(t, p.VerifyChainHistory(test.chain), test.err)
		})
	}
}

func TestExpireAuthoritySet(t *testing.T) {
	require := require.New(t)

	p := newTestProtection(t, DefaultConfig(), memdb.New())
	require.False(p.IsAuthoritySetExpired(0))

	require.NoError(p.ExpireAuthoritySet(3))
	require.Equal(uint64(4), p.MinAuthoritySetID())
	for setID := range uint64(4) {
		require.True(p.IsAuthoritySetExpired(setID))
		require.ErrorIs(p.VerifyAuthoritySet(setID), ErrAuthoritySetExpired)
	}
	require.False(p.IsAuthoritySetExpired(4))
	require.NoError(p.VerifyAuthoritySet(4))

	// Expiring an older set never lowers the minimum.
	require.NoError(p.ExpireAuthoritySet(1))
	require.Equal(uint64(4), p.MinAuthoritySetID())
}

func TestSetMinAuthoritySetIDMonotonic(t *testing.T) {
	require := require.New(t)

	p := newTestProtection(t, DefaultConfig(), memdb.New())
	require.NoError(p.SetMinAuthoritySetID(5))
	require.Equal(uint64(5), p.MinAuthoritySetID())
	require.NoError(p.SetMinAuthoritySetID(2))
	require.Equal(uint64(5), p.MinAuthoritySetID())
}

func TestCleanupExpiredSets(t *testing.T) {
	require := require.New(t)

	p := newTestProtection(t, DefaultConfig(), memdb.New())
	for _, setID := range []uint64{1, 2, 3, 7} {
		require.NoError(p.ExpireAuthoritySet(setID))
	}

	removed, err := p.CleanupExpiredSets(3)
	require.NoError(err)
	require.Equal(2, removed)

	// Still rejected through the minimum.
	require.True(p.IsAuthoritySetExpired(1))
	require.True(p.IsAuthoritySetExpired(7))
}

func TestStatePersists(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	p := newTestProtection(t, DefaultConfig(), db)
	require.NoError(p.AddSocialCheckpoint(anchor(100, 1)))
	require.NoError(p.ExpireAuthoritySet(0))
	require.NoError(p.SetMinAuthoritySetID(3))

	reloaded := newTestProtection(t, DefaultConfig(), db)
	latest, ok := reloaded.LatestSocialCheckpoint()
	require.True(ok)
	require.Equal(anchor(100, 1), latest)
	require.Equal(uint64(3), reloaded.MinAuthoritySetID())
	require.True(reloaded.IsAuthoritySetExpired(0))

	require.ErrorIs(reloaded.AddSocialCheckpoint(anchor(50, 2)), ErrNonMonotonicAnchor)
}

func TestGenesisMismatchOnReopen(t *testing.T) {
	db := memdb.New()
	newTestProtection(t, DefaultConfig(), db)

	_, err := New(log.NewNoOpLogger(), DefaultConfig(), Genesis(ids.GenerateTestID()), db, nil)
	require.ErrorIs(t, err, ErrGenesisMismatch)
}

func TestNewAnchorAtBlock(t *testing.T) {
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.UnixMilli(12_345))
	p, err := New(log.NewNoOpLogger(), DefaultConfig(), Genesis(genesisHash), memdb.New(), clock)
	require.NoError(err)

	hash := ids.GenerateTestID()
	a := p.NewAnchorAtBlock(10, hash, 1)
	require.Equal(uint64(10), a.BlockNumber)
	require.Equal(hash, a.BlockHash)
	require.Equal(uint64(12_345), a.Timestamp)
	require.NoError(p.AddSocialCheckpoint(a))
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(log.NewNoOpLogger(), Config{}, Genesis(genesisHash), memdb.New(), nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
