// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package byzantine

import (
	"bytes"
	"slices"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/asf/consensus/hotstuff"
	"github.com/luxfi/asf/utils/timer/mockable"
)

const (
	DefaultSuspicionThreshold = 3

	maxRecordedReasons = 10
)

var _ hotstuff.EquivocationReporter = (*Detector)(nil)

// SuspicionReason classifies a single suspicious incident.
type SuspicionReason uint8

const (
	ConflictingVotes SuspicionReason = iota
	InvalidSignature
	InvalidPhase
	DuplicateVote
	Unavailable
	InvalidCertificate
)

func (r SuspicionReason) String() string {
	switch r {
	case ConflictingVotes:
		return "conflicting votes"
	case InvalidSignature:
		return "invalid signature"
	case InvalidPhase:
		return "invalid phase"
	case DuplicateVote:
		return "duplicate vote"
	case Unavailable:
		return "unavailable"
	case InvalidCertificate:
		return "invalid certificate"
	default:
		return "unknown"
	}
}

// SuspicionRecord is the incident history of one validator.
type SuspicionRecord struct {
	NodeID        ids.NodeID
	IncidentCount uint32
	// Reasons holds the most recent incidents, oldest first.
	Reasons       []SuspicionReason
	FirstIncident uint64
	LastIncident  uint64
}

// Detector accumulates suspicious incidents per validator. A validator is
// considered Byzantine once its incident count reaches the threshold.
type Detector struct {
	mu sync.RWMutex

	log       log.Logger
	clock     *mockable.Clock
	threshold uint32
	records   map[ids.NodeID]*SuspicionRecord
}

func NewDetector(log log.Logger, threshold uint32, clock *mockable.Clock) *Detector {
	if threshold == 0 {
		threshold = DefaultSuspicionThreshold
	}
	if clock == nil {
		clock = &mockable.Clock{}
	}
	return &Detector{
		log:       log,
		clock:     clock,
		threshold: threshold,
		records:   make(map[ids.NodeID]*SuspicionRecord),
	}
}

func (d *Detector) Threshold() uint32 {
	return d.threshold
}

func (d *Detector) ReportSuspicious(nodeID ids.NodeID, reason SuspicionReason) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.UnixMilli()
	record, ok := d.records[nodeID]
	if !ok {
		record = &SuspicionRecord{
			NodeID:        nodeID,
			FirstIncident: now,
		}
		d.records[nodeID] = record
	}
	record.IncidentCount++
	record.LastIncident = now
	record.Reasons = append(record.Reasons, reason)
	if len(record.Reasons) > maxRecordedReasons {
		record.Reasons = slices.Delete(record.Reasons, 0, len(record.Reasons)-maxRecordedReasons)
	}

	if record.IncidentCount == d.threshold {
		d.log.Warn("validator suspected byzantine",
			log.Stringer("nodeID", nodeID),
			log.Stringer("reason", reason),
			log.Uint32("incidents", record.IncidentCount),
		)
	} else {
		d.log.Debug("suspicious incident",
			log.Stringer("nodeID", nodeID),
			log.Stringer("reason", reason),
			log.Uint32("incidents", record.IncidentCount),
		)
	}
}

// ReportDuplicateVote records a duplicate vote reported by the engine.
func (d *Detector) ReportDuplicateVote(nodeID ids.NodeID, _ ids.ID, _ hotstuff.Phase) {
	d.ReportSuspicious(nodeID, DuplicateVote)
}

func (d *Detector) IsByzantine(nodeID ids.NodeID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	record, ok := d.records[nodeID]
	return ok && record.IncidentCount >= d.threshold
}

// Suspected returns every validator at or above the threshold, ordered by
// node ID.
func (d *Detector) Suspected() []ids.NodeID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var suspected []ids.NodeID
	for nodeID, record := range d.records {
		if record.IncidentCount >= d.threshold {
			suspected = append(suspected, nodeID)
		}
	}
	return sortNodeIDs(suspected)
}

func (d *Detector) ClearSuspicion(nodeID ids.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.records, nodeID)
}

// Record returns a copy of the validator's incident history.
func (d *Detector) Record(nodeID ids.NodeID) (SuspicionRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	record, ok := d.records[nodeID]
	if !ok {
		return SuspicionRecord{}, false
	}
	cp := *record
	cp.Reasons = slices.Clone(record.Reasons)
	return cp, true
}

func sortNodeIDs(nodeIDs []ids.NodeID) []ids.NodeID {
	slices.SortFunc(nodeIDs, func(a, b ids.NodeID) int {
		return bytes.Compare(a[:], b[:])
	})
	return nodeIDs
}
