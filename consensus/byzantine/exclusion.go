// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package byzantine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/asf/consensus/hotstuff"
	"github.com/luxfi/asf/utils/wrappers"
)

const (
	DefaultAutoExcludeThreshold  = 5
	DefaultExclusionDuration     = 14_400
	DefaultPermanentBanThreshold = 3
)

var (
	_ hotstuff.Admission = (*ExclusionManager)(nil)

	exclusionPrefix = []byte("exclusion")

	ErrNotExcluded         = errors.New("validator not excluded")
	ErrInvalidExclusion    = errors.New("invalid exclusion config")
	ErrCorruptedExclusions = errors.New("corrupted exclusion record")
)

type ExclusionReason uint8

const (
	ByzantineBehavior ExclusionReason = iota
	InvalidSignatures
	Equivocation
	RepeatedSlashing
	ManualBan
	InsufficientStake
)

func (r ExclusionReason) String() string {
	switch r {
	case ByzantineBehavior:
		return "Byzantine Behavior"
	case InvalidSignatures:
		return "Invalid Signatures"
	case Equivocation:
		return "Equivocation"
	case RepeatedSlashing:
		return "Repeated Slashing"
	case ManualBan:
		return "Manual Ban"
	case InsufficientStake:
		return "Insufficient Stake"
	default:
		return "Unknown"
	}
}

// ExclusionRecord describes the current exclusion of a validator. A
// permanent record never expires.
type ExclusionRecord struct {
	NodeID ids.NodeID      `serialize:"true"`
	Reason ExclusionReason `serialize:"true"`
	// Incidents carries the count attached to the reason, if any.
	Incidents    uint32 `serialize:"true"`
	ExcludedAt   uint64 `serialize:"true"`
	ExpiresAt    uint64 `serialize:"true"`
	Permanent    bool   `serialize:"true"`
	OffenseCount uint32 `serialize:"true"`
}

// Expired reports whether a temporary exclusion has lapsed at block.
func (r *ExclusionRecord) Expired(block uint64) bool {
	return !r.Permanent && block >= r.ExpiresAt
}

// exclusionEntry is the persisted form. The offense count outlives the
// exclusion it belongs to.
type exclusionEntry struct {
	Offenses uint32          `serialize:"true"`
	Excluded bool            `serialize:"true"`
	Record   ExclusionRecord `serialize:"true"`
}

type ExclusionConfig struct {
	// AutoExcludeThreshold is the detector incident count at which a
	// validator is excluded by ProcessDetections.
	AutoExcludeThreshold uint32
	// ExclusionDuration is the number of blocks a temporary exclusion lasts.
	ExclusionDuration uint64
	// PermanentBanThreshold is the offense count that makes an exclusion
	// permanent.
	PermanentBanThreshold uint32
}

func DefaultExclusionConfig() ExclusionConfig {
	return ExclusionConfig{
		AutoExcludeThreshold:  DefaultAutoExcludeThreshold,
		ExclusionDuration:     DefaultExclusionDuration,
		PermanentBanThreshold: DefaultPermanentBanThreshold,
	}
}

func (c ExclusionConfig) Validate() error {
	switch {
	case c.AutoExcludeThreshold == 0:
		return fmt.Errorf("%w: auto exclude threshold is zero", ErrInvalidExclusion)
	case c.ExclusionDuration == 0:
		return fmt.Errorf("%w: exclusion duration is zero", ErrInvalidExclusion)
	case c.PermanentBanThreshold == 0:
		return fmt.Errorf("%w: permanent ban threshold is zero", ErrInvalidExclusion)
	default:
		return nil
	}
}

type ExclusionStats struct {
	TotalExcluded       int
	PermanentBans       int
	TemporaryExclusions int
	ByReason            map[string]int
}

type exclusionMetrics struct {
	excluded      metric.Gauge
	exclusions    metric.Counter
	permanentBans metric.Counter
}

func newExclusionMetrics(registerer metric.Registerer) (*exclusionMetrics, error) {
	m := &exclusionMetrics{
		excluded: metric.NewGauge(metric.GaugeOpts{
			Name: "byzantine_excluded",
			Help: "Number of validators currently excluded",
		}),
		exclusions: metric.NewCounter(metric.CounterOpts{
			Name: "byzantine_exclusions",
			Help: "Number of exclusions applied",
		}),
		permanentBans: metric.NewCounter(metric.CounterOpts{
			Name: "byzantine_permanent_bans",
			Help: "Number of permanent bans applied",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(metric.AsCollector(m.excluded)),
		registerer.Register(metric.AsCollector(m.exclusions)),
		registerer.Register(metric.AsCollector(m.permanentBans)),
	)
	return m, errs.Err
}

// ExclusionManager bans misbehaving validators from consensus, temporarily
// or permanently. Every change is written through to the database.
type ExclusionManager struct {
	mu sync.RWMutex

	log     log.Logger
	config  ExclusionConfig
	metrics *exclusionMetrics
	db      database.Database

	entries map[ids.NodeID]*exclusionEntry
}

// NewExclusionManager loads any previously persisted exclusions from db.
func NewExclusionManager(
	log log.Logger,
	config ExclusionConfig,
	db database.Database,
	registerer metric.Registerer,
) (*ExclusionManager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	m, err := newExclusionMetrics(registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register exclusion metrics: %w", err)
	}
	em := &ExclusionManager{
		log:     log,
		config:  config,
		metrics: m,
		db:      prefixdb.New(exclusionPrefix, db),
		entries: make(map[ids.NodeID]*exclusionEntry),
	}
	if err := em.load(); err != nil {
		return nil, err
	}
	em.metrics.excluded.Set(float64(em.excludedCount()))
	return em, nil
}

func (em *ExclusionManager) load() error {
	iter := em.db.NewIterator()
	defer iter.Release()

	for iter.Next() {
		entry := &exclusionEntry{}
		if _, err := Codec.Unmarshal(iter.Value(), entry); err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptedExclusions, err)
		}
		em.entries[entry.Record.NodeID] = entry
	}
	return iter.Error()
}

func (em *ExclusionManager) persist(nodeID ids.NodeID, entry *exclusionEntry) error {
	bytes, err := Codec.Marshal(CodecVersion, entry)
	if err != nil {
		return err
	}
	return em.db.Put(nodeID[:], bytes)
}

func (em *ExclusionManager) excludedCount() int {
	count := 0
	for _, entry := range em.entries {
		if entry.Excluded {
			count++
		}
	}
	return count
}

// ExcludeValidator excludes the validator at block. The offense count
// increases on every call, and reaching the permanent ban threshold makes
// the exclusion permanent.
func (em *ExclusionManager) ExcludeValidator(nodeID ids.NodeID, reason ExclusionReason, block uint64) (ExclusionRecord, error) {
	return em.exclude(nodeID, reason, 0, block)
}

func (em *ExclusionManager) exclude(nodeID ids.NodeID, reason ExclusionReason, incidents uint32, block uint64) (ExclusionRecord, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	var offenses uint32
	if prev, ok := em.entries[nodeID]; ok {
		offenses = prev.Offenses
	}
	offenses++

	record := ExclusionRecord{
		NodeID:       nodeID,
		Reason:       reason,
		Incidents:    incidents,
		ExcludedAt:   block,
		OffenseCount: offenses,
	}
	if offenses >= em.config.PermanentBanThreshold {
		record.Permanent = true
	} else {
		record.ExpiresAt = block + em.config.ExclusionDuration
	}

	entry := &exclusionEntry{
		Offenses: offenses,
		Excluded: true,
		Record:   record,
	}
	if err := em.persist(nodeID, entry); err != nil {
		return ExclusionRecord{}, fmt.Errorf("failed to persist exclusion of %s: %w", nodeID, err)
	}
	em.entries[nodeID] = entry

	em.metrics.exclusions.Inc()
	if record.Permanent {
		em.metrics.permanentBans.Inc()
	}
	em.metrics.excluded.Set(float64(em.excludedCount()))

	em.log.Info("excluded validator",
		log.Stringer("nodeID", nodeID),
		log.Stringer("reason", reason),
		log.Uint64("block", block),
		log.Uint32("offenses", offenses),
		log.Bool("permanent", record.Permanent),
	)
	return record, nil
}

// ProcessDetections excludes every validator the detector suspects whose
// incident count reaches the auto-exclude threshold and that is not already
// excluded. It returns the newly excluded validators.
func (em *ExclusionManager) ProcessDetections(detector *Detector, block uint64) ([]ids.NodeID, error) {
	var excluded []ids.NodeID
	for _, nodeID := range detector.Suspected() {
		record, ok := detector.Record(nodeID)
		if !ok || record.IncidentCount < em.config.AutoExcludeThreshold || em.IsExcluded(nodeID) {
			continue
		}
		if _, err := em.exclude(nodeID, ByzantineBehavior, record.IncidentCount, block); err != nil {
			return excluded, err
		}
		excluded = append(excluded, nodeID)
	}
	return excluded, nil
}

// IsExcluded reports whether the validator holds an exclusion record, lapsed
// or not.
func (em *ExclusionManager) IsExcluded(nodeID ids.NodeID) bool {
	em.mu.RLock()
	defer em.mu.RUnlock()

	entry, ok := em.entries[nodeID]
	return ok && entry.Excluded
}

func (em *ExclusionManager) Exclusion(nodeID ids.NodeID) (ExclusionRecord, bool) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	entry, ok := em.entries[nodeID]
	if !ok || !entry.Excluded {
		return ExclusionRecord{}, false
	}
	return entry.Record, true
}

// OffenseCount returns the number of exclusions ever applied to the
// validator.
func (em *ExclusionManager) OffenseCount(nodeID ids.NodeID) uint32 {
	em.mu.RLock()
	defer em.mu.RUnlock()

	if entry, ok := em.entries[nodeID]; ok {
		return entry.Offenses
	}
	return 0
}

// CanParticipate is the admission gate for votes. A validator may
// participate unless it holds a permanent or unexpired exclusion.
func (em *ExclusionManager) CanParticipate(nodeID ids.NodeID, block uint64) bool {
	em.mu.RLock()
	defer em.mu.RUnlock()

	entry, ok := em.entries[nodeID]
	if !ok || !entry.Excluded {
		return true
	}
	return entry.Record.Expired(block)
}

func (em *ExclusionManager) IsValidatorAllowed(nodeID ids.NodeID, block uint64) bool {
	return em.CanParticipate(nodeID, block)
}

// FilterExcluded returns the validators that may participate at block,
// preserving order.
func (em *ExclusionManager) FilterExcluded(validators []ids.NodeID, block uint64) []ids.NodeID {
	allowed := make([]ids.NodeID, 0, len(validators))
	for _, nodeID := range validators {
		if em.CanParticipate(nodeID, block) {
			allowed = append(allowed, nodeID)
		}
	}
	return allowed
}

// CleanupExpired lifts every temporary exclusion that has lapsed at block
// and returns the restored validators. Permanent bans are never lifted.
func (em *ExclusionManager) CleanupExpired(block uint64) ([]ids.NodeID, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	var restored []ids.NodeID
	for nodeID, entry := range em.entries {
		if !entry.Excluded || !entry.Record.Expired(block) {
			continue
		}
		lifted := *entry
		lifted.Excluded = false
		if err := em.persist(nodeID, &lifted); err != nil {
			return sortNodeIDs(restored), fmt.Errorf("failed to persist restoration of %s: %w", nodeID, err)
		}
		em.entries[nodeID] = &lifted
		restored = append(restored, nodeID)

		em.log.Info("restored validator after exclusion period",
			log.Stringer("nodeID", nodeID),
			log.Uint64("block", block),
		)
	}
	em.metrics.excluded.Set(float64(em.excludedCount()))
	return sortNodeIDs(restored), nil
}

// ReinstateValidator lifts an exclusion by governance decision, permanent
// or not. The offense history is kept.
func (em *ExclusionManager) ReinstateValidator(nodeID ids.NodeID) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	entry, ok := em.entries[nodeID]
	if !ok || !entry.Excluded {
		return fmt.Errorf("%w: %s", ErrNotExcluded, nodeID)
	}
	lifted := *entry
	lifted.Excluded = false
	if err := em.persist(nodeID, &lifted); err != nil {
		return fmt.Errorf("failed to persist reinstatement of %s: %w", nodeID, err)
	}
	em.entries[nodeID] = &lifted
	em.metrics.excluded.Set(float64(em.excludedCount()))

	em.log.Info("reinstated validator",
		log.Stringer("nodeID", nodeID),
	)
	return nil
}

// ExcludedValidators returns every validator holding an exclusion record,
// ordered by node ID.
func (em *ExclusionManager) ExcludedValidators() []ids.NodeID {
	em.mu.RLock()
	defer em.mu.RUnlock()

	var excluded []ids.NodeID
	for nodeID, entry := range em.entries {
		if entry.Excluded {
			excluded = append(excluded, nodeID)
		}
	}
	return sortNodeIDs(excluded)
}

func (em *ExclusionManager) ExclusionCount() int {
	em.mu.RLock()
	defer em.mu.RUnlock()

	return em.excludedCount()
}

func (em *ExclusionManager) Stats() ExclusionStats {
	em.mu.RLock()
	defer em.mu.RUnlock()

	stats := ExclusionStats{
		ByReason: make(map[string]int),
	}
	for _, entry := range em.entries {
		if !entry.Excluded {
			continue
		}
		stats.TotalExcluded++
		stats.ByReason[entry.Record.Reason.String()]++
		if entry.Record.Permanent {
			stats.PermanentBans++
		} else {
			stats.TemporaryExclusions++
		}
	}
	return stats
}
