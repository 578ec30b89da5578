// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package byzantine

import (
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/asf/consensus/hotstuff"
	"github.com/luxfi/asf/utils/timer/mockable"
)

func nodeID(id byte) ids.NodeID {
	return ids.BuildTestNodeID([]byte{id})
}

func TestDetectorThreshold(t *testing.T) {
	require := require.New(t)

	d := NewDetector(log.NewNoOpLogger(), 0, nil)
	require.Equal(uint32(DefaultSuspicionThreshold), d.Threshold())

	v := nodeID(1)
	d.ReportSuspicious(v, ConflictingVotes)
	d.ReportSuspicious(v, InvalidSignature)
	require.False(d.IsByzantine(v))
	require.Empty(d.Suspected())

	d.ReportSuspicious(v, InvalidPhase)
	require.True(d.IsByzantine(v))
	require.Equal([]ids.NodeID{v}, d.Suspected())

	d.ClearSuspicion(v)
	require.False(d.IsByzantine(v))
	_, ok := d.Record(v)
	require.False(ok)
}

func TestDetectorKeepsRecentReasons(t *testing.T) {
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.UnixMilli(1_000))
	d := NewDetector(log.NewNoOpLogger(), 3, clock)

	v := nodeID(1)
	d.ReportSuspicious(v, ConflictingVotes)
	clock.Advance(time.Second)
	for range 11 {
		d.ReportSuspicious(v, Unavailable)
	}

	record, ok := d.Record(v)
	require.True(ok)
	require.Equal(uint32(12), record.IncidentCount)
	require.Len(record.Reasons, maxRecordedReasons)
	require.NotContains(record.Reasons, ConflictingVotes)
	require.Equal(uint64(1_000), record.FirstIncident)
	require.Equal(uint64(2_000), record.LastIncident)
}

func TestDetectorRecordIsCopy(t *testing.T) {
	require := require.New(t)

	d := NewDetector(log.NewNoOpLogger(), 3, nil)
	v := nodeID(1)
	d.ReportSuspicious(v, DuplicateVote)

	record, _ := d.Record(v)
	record.Reasons[0] = Unavailable

	record, _ = d.Record(v)
	require.Equal(DuplicateVote, record.Reasons[0])
}

func TestDetectorReportsDuplicateVotes(t *testing.T) {
	require := require.New(t)

	d := NewDetector(log.NewNoOpLogger(), 2, nil)
	var reporter hotstuff.EquivocationReporter = d

	v := nodeID(1)
	reporter.ReportDuplicateVote(v, ids.GenerateTestID(), hotstuff.Prepare)
	reporter.ReportDuplicateVote(v, ids.GenerateTestID(), hotstuff.PreCommit)
	require.True(d.IsByzantine(v))

	record, ok := d.Record(v)
	require.True(ok)
	require.Equal([]SuspicionReason{DuplicateVote, DuplicateVote}, record.Reasons)
}

func TestSuspectedSorted(t *testing.T) {
	require := require.New(t)

	d := NewDetector(log.NewNoOpLogger(), 1, nil)
	for _, id := range []byte{3, 1, 2} {
		d.ReportSuspicious(nodeID(id), Unavailable)
	}
	require.Equal([]ids.NodeID{nodeID(1), nodeID(2), nodeID(3)}, d.Suspected())
}
