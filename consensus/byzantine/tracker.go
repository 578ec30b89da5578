// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package byzantine

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
	"github.com/luxfi/metric"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	safemath "github.com/luxfi/asf/utils/math"
)

const (
	// MinParticipationRate is the signed/seen ratio below which an evaluated
	// validator is suspected.
	MinParticipationRate = 0.80

	DefaultMinCheckpoints      = 10
	DefaultCensorshipThreshold = 5
	DefaultCommitteeSize       = 21

	// Participation rates further than this many standard deviations below
	// the committee mean are flagged as outliers in reports.
	outlierZScore = 2.0
)

var (
	ErrInvalidCommitteeSize       = errors.New("committee size must be positive")
	ErrInvalidCensorshipThreshold = errors.New("censorship threshold must be positive")
)

type TrackerConfig struct {
	// MinCheckpoints is the number of observed opportunities before a
	// validator's participation is evaluated.
	MinCheckpoints uint32
	// CensorshipThreshold is the number of missed checkpoints that marks a
	// censorship pattern.
	CensorshipThreshold int
	CommitteeSize       uint64
}

func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MinCheckpoints:      DefaultMinCheckpoints,
		CensorshipThreshold: DefaultCensorshipThreshold,
		CommitteeSize:       DefaultCommitteeSize,
	}
}

func (c TrackerConfig) Validate() error {
	switch {
	case c.CommitteeSize == 0:
		return ErrInvalidCommitteeSize
	case c.CensorshipThreshold <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidCensorshipThreshold, c.CensorshipThreshold)
	default:
		return nil
	}
}

type participation struct {
	seen         uint32
	signed       uint32
	lastActivity uint64
	// lastSeen is the newest checkpoint the validator was expected to sign.
	lastSeen uint64
	missed   []uint64
}

func (p *participation) rate() float64 {
	if p.seen == 0 {
		return 1
	}
	return float64(p.signed) / float64(p.seen)
}

func (p *participation) suspicious(minCheckpoints uint32) bool {
	return p.seen >= minCheckpoints && p.rate() < MinParticipationRate
}

// Tracker measures how often each validator signs the checkpoints it was
// expected to sign.
type Tracker struct {
	mu sync.RWMutex

	log            log.Logger
	config         TrackerConfig
	suspectedGauge metric.Gauge

	participation map[ids.NodeID]*participation
	suspected     set.Set[ids.NodeID]
	confirmed     set.Set[ids.NodeID]
	opportunities []uint64
}

func NewTracker(log log.Logger, config TrackerConfig, registerer metric.Registerer) (*Tracker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("tracker config: %w", err)
	}
	gauge := metric.NewGauge(metric.GaugeOpts{
		Name: "byzantine_suspected",
		Help: "Number of validators currently suspected byzantine",
	})
	if err := registerer.Register(metric.AsCollector(gauge)); err != nil {
		return nil, fmt.Errorf("failed to register tracker metrics: %w", err)
	}
	return &Tracker{
		log:            log,
		config:         config,
		suspectedGauge: gauge,
		participation:  make(map[ids.NodeID]*participation),
		suspected:      set.NewSet[ids.NodeID](0),
		confirmed:      set.NewSet[ids.NodeID](0),
	}, nil
}

func (t *Tracker) stats(nodeID ids.NodeID) *participation {
	p, ok := t.participation[nodeID]
	if !ok {
		p = &participation{}
		t.participation[nodeID] = p
	}
	return p
}

// SetCommitteeSize updates the committee size the safety threshold is
// derived from.
func (t *Tracker) SetCommitteeSize(n uint64) {
	if n == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.config.CommitteeSize = n
}

// Threshold returns ceil(n/3) for the configured committee size.
func (t *Tracker) Threshold() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return int(safemath.ByzantineThreshold(t.config.CommitteeSize))
}

// RecordCheckpointOpportunity counts checkpoint as seen by every validator
// that was expected to sign it. Call it once per checkpoint.
func (t *Tracker) RecordCheckpointOpportunity(checkpoint uint64, validators []ids.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.opportunities = append(t.opportunities, checkpoint)
	for _, nodeID := range validators {
		p := t.stats(nodeID)
		p.seen++
		p.lastSeen = max(p.lastSeen, checkpoint)
	}
}

func (t *Tracker) RecordSignature(nodeID ids.NodeID, checkpoint uint64, timestamp uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.stats(nodeID)
	p.signed++
	p.lastActivity = timestamp

	t.log.Debug("checkpoint signed",
		log.Stringer("nodeID", nodeID),
		log.Uint64("checkpoint", checkpoint),
		zap.Float64("participation", p.rate()),
	)
}

func (t *Tracker) RecordMissedCheckpoint(nodeID ids.NodeID, checkpoint uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.stats(nodeID)
	p.missed = append(p.missed, checkpoint)
	p.lastSeen = max(p.lastSeen, checkpoint)

	t.log.Debug("checkpoint missed",
		log.Stringer("nodeID", nodeID),
		log.Uint64("checkpoint", checkpoint),
		log.Int("missed", len(p.missed)),
	)
}

// DetectByzantineBehavior recomputes the suspected set from participation
// and returns it ordered by node ID. Confirmed validators stay suspected.
func (t *Tracker) DetectByzantineBehavior() []ids.NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	suspected := set.NewSet[ids.NodeID](len(t.participation))
	for nodeID, p := range t.participation {
		if !p.suspicious(t.config.MinCheckpoints) {
			continue
		}
		suspected.Add(nodeID)
		t.log.Warn("low participation",
			log.Stringer("nodeID", nodeID),
			log.Uint32("signed", p.signed),
			log.Uint32("seen", p.seen),
			zap.Float64("rate", p.rate()),
		)
	}
	suspected.Union(t.confirmed)
	t.suspected = suspected
	t.suspectedGauge.Set(float64(suspected.Len()))

	threshold := int(safemath.ByzantineThreshold(t.config.CommitteeSize))
	if suspected.Len() >= threshold {
		t.log.Error("byzantine threshold exceeded",
			log.Int("suspected", suspected.Len()),
			log.Int("threshold", threshold),
		)
	}
	return sortNodeIDs(suspected.List())
}

func (t *Tracker) ParticipationRate(nodeID ids.NodeID) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.participation[nodeID]
	if !ok {
		return 1
	}
	return p.rate()
}

// ParticipationStats returns the seen and signed counts of a validator.
func (t *Tracker) ParticipationStats(nodeID ids.NodeID) (seen uint32, signed uint32, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.participation[nodeID]
	if !ok {
		return 0, 0, false
	}
	return p.seen, p.signed, true
}

func (t *Tracker) IsSuspected(nodeID ids.NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.suspected.Contains(nodeID)
}

// MarkConfirmedByzantine records hard evidence against a validator. It is
// also added to the suspected set.
func (t *Tracker) MarkConfirmedByzantine(nodeID ids.NodeID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.confirmed.Add(nodeID)
	t.suspected.Add(nodeID)
	t.suspectedGauge.Set(float64(t.suspected.Len()))

	t.log.Error("confirmed byzantine validator",
		log.Stringer("nodeID", nodeID),
		log.String("reason", reason),
	)
}

func (t *Tracker) IsConfirmedByzantine(nodeID ids.NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.confirmed.Contains(nodeID)
}

// CensorshipPattern lists the checkpoints a validator failed to sign.
type CensorshipPattern struct {
	NodeID ids.NodeID
	Missed []uint64
}

func (t *Tracker) DetectCensorship() []CensorshipPattern {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var patterns []CensorshipPattern
	for nodeID, p := range t.participation {
		if len(p.missed) < t.config.CensorshipThreshold {
			continue
		}
		patterns = append(patterns, CensorshipPattern{
			NodeID: nodeID,
			Missed: slices.Clone(p.missed),
		})
		t.log.Warn("potential censorship",
			log.Stringer("nodeID", nodeID),
			log.Int("missed", len(p.missed)),
		)
	}
	slices.SortFunc(patterns, func(a, b CensorshipPattern) int {
		return bytes.Compare(a.NodeID[:], b.NodeID[:])
	})
	return patterns
}

func (t *Tracker) Suspected() []ids.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return sortNodeIDs(t.suspected.List())
}

func (t *Tracker) Confirmed() []ids.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return sortNodeIDs(t.confirmed.List())
}

// IsByzantineThresholdExceeded reports whether at least ceil(n/3)
// validators are suspected.
func (t *Tracker) IsByzantineThresholdExceeded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return uint64(t.suspected.Len()) >= safemath.ByzantineThreshold(t.config.CommitteeSize)
}

// RiskLevel is the suspected count over the threshold. 1 or more means
// safety is at risk.
func (t *Tracker) RiskLevel() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.riskLevel()
}

func (t *Tracker) riskLevel() float64 {
	threshold := safemath.ByzantineThreshold(t.config.CommitteeSize)
	return float64(t.suspected.Len()) / float64(threshold)
}

type ValidatorReport struct {
	NodeID            ids.NodeID
	CheckpointsSeen   uint32
	CheckpointsSigned uint32
	ParticipationRate float64
	Suspected         bool
	Confirmed         bool
	// Outlier is set when the rate is far below the committee mean.
	Outlier bool
	Missed  []uint64
}

type Report struct {
	TotalCheckpoints    int
	Suspected           []ids.NodeID
	Confirmed           []ids.NodeID
	ThresholdExceeded   bool
	RiskLevel           float64
	MeanParticipation   float64
	StdDevParticipation float64
	// Validators is sorted by participation rate, lowest first.
	Validators []ValidatorReport
}

func (t *Tracker) GenerateReport() Report {
	t.mu.RLock()
	defer t.mu.RUnlock()

	validators := make([]ValidatorReport, 0, len(t.participation))
	rates := make([]float64, 0, len(t.participation))
	for nodeID, p := range t.participation {
		validators = append(validators, ValidatorReport{
			NodeID:            nodeID,
			CheckpointsSeen:   p.seen,
			CheckpointsSigned: p.signed,
			ParticipationRate: p.rate(),
			Suspected:         t.suspected.Contains(nodeID),
			Confirmed:         t.confirmed.Contains(nodeID),
			Missed:            slices.Clone(p.missed),
		})
		rates = append(rates, p.rate())
	}

	var mean, stdDev float64
	if len(rates) > 0 {
		mean, stdDev = stat.MeanStdDev(rates, nil)
	}
	if stdDev > 0 {
		for i := range validators {
			z := stat.StdScore(validators[i].ParticipationRate, mean, stdDev)
			validators[i].Outlier = z <= -outlierZScore
		}
	}

	slices.SortFunc(validators, func(a, b ValidatorReport) int {
		switch {
		case a.ParticipationRate < b.ParticipationRate:
			return -1
		case a.ParticipationRate > b.ParticipationRate:
			return 1
		default:
			return bytes.Compare(a.NodeID[:], b.NodeID[:])
		}
	})

	return Report{
		TotalCheckpoints:    len(t.opportunities),
		Suspected:           sortNodeIDs(t.suspected.List()),
		Confirmed:           sortNodeIDs(t.confirmed.List()),
		ThresholdExceeded:   uint64(t.suspected.Len()) >= safemath.ByzantineThreshold(t.config.CommitteeSize),
		RiskLevel:           t.riskLevel(),
		MeanParticipation:   mean,
		StdDevParticipation: stdDev,
		Validators:          validators,
	}
}

// CleanupOldData keeps only the most recent keep checkpoint opportunities.
// Missed checkpoints older than the window are dropped, as are validators
// with no activity left in it unless they are suspected or confirmed.
func (t *Tracker) CleanupOldData(keep int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if keep < 0 || len(t.opportunities) <= keep {
		return
	}
	var cutoff uint64
	if keep == 0 {
		cutoff = slices.Max(t.opportunities) + 1
	} else {
		cutoff = slices.Min(t.opportunities[len(t.opportunities)-keep:])
	}
	t.opportunities = slices.Clone(t.opportunities[len(t.opportunities)-keep:])

	for nodeID, p := range t.participation {
		p.missed = slices.DeleteFunc(p.missed, func(checkpoint uint64) bool {
			return checkpoint < cutoff
		})
		if p.lastSeen >= cutoff || len(p.missed) > 0 || t.suspected.Contains(nodeID) || t.confirmed.Contains(nodeID) {
			continue
		}
		delete(t.participation, nodeID)
	}
}
