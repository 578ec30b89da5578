// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package eclipse

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
	"github.com/luxfi/metric"

	lru "github.com/hashicorp/golang-lru"

	"github.com/luxfi/asf/utils/wrappers"
)

var ErrLowSourceDiversity = errors.New("certificate source diversity too low")

// Warning is a low diversity observation for a block.
type Warning struct {
	BlockNumber uint64
	BlockHash   ids.ID
	Sources     int
}

func (w Warning) String() string {
	return fmt.Sprintf("low signature source diversity for block %d (%s): %d unique sources", w.BlockNumber, w.BlockHash, w.Sources)
}

type blockKey struct {
	number uint64
	hash   ids.ID
}

type detectorMetrics struct {
	warnings             metric.Counter
	rejectedCertificates metric.Counter
}

func newDetectorMetrics(registerer metric.Registerer) (*detectorMetrics, error) {
	m := &detectorMetrics{
		warnings: metric.NewCounter(metric.CounterOpts{
			Name: "eclipse_warnings",
			Help: "Number of low source diversity warnings",
		}),
		rejectedCertificates: metric.NewCounter(metric.CounterOpts{
			Name: "eclipse_rejected_certificates",
			Help: "Number of certificates rejected for low source diversity",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(metric.AsCollector(m.warnings)),
		registerer.Register(metric.AsCollector(m.rejectedCertificates)),
	)
	return m, errs.Err
}

// Detector tracks the network sources signatures and certificates arrive
// from. Sources are opaque transport identities supplied by the network
// layer.
type Detector struct {
	mu sync.RWMutex

	log     log.Logger
	config  Config
	metrics *detectorMetrics

	// validator NodeID -> set.Set[string]
	validatorSources *lru.Cache
	blockSources     map[blockKey]set.Set[string]
	certSources      map[uint64]set.Set[string]
	warnings         []Warning
}

func New(log log.Logger, config Config, registerer metric.Registerer) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	m, err := newDetectorMetrics(registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register eclipse metrics: %w", err)
	}
	cache, err := lru.New(config.MaxTrackedValidators)
	if err != nil {
		return nil, err
	}
	return &Detector{
		log:              log,
		config:           config,
		metrics:          m,
		validatorSources: cache,
		blockSources:     make(map[blockKey]set.Set[string]),
		certSources:      make(map[uint64]set.Set[string]),
	}, nil
}

func (d *Detector) validatorSet(nodeID ids.NodeID) (set.Set[string], bool) {
	v, ok := d.validatorSources.Get(nodeID)
	if !ok {
		return nil, false
	}
	return v.(set.Set[string]), true
}

// ValidateSignatureDiversity records the source a validator's signature for
// a block arrived from. Signatures are always accepted; it returns true when
// the block's signatures come from fewer sources than the warning threshold.
func (d *Detector) ValidateSignatureDiversity(nodeID ids.NodeID, blockNumber uint64, blockHash ids.ID, source string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	sources, ok := d.validatorSet(nodeID)
	if !ok {
		sources = set.NewSet[string](1)
	}
	sources.Add(source)
	d.validatorSources.Add(nodeID, sources)

	key := blockKey{number: blockNumber, hash: blockHash}
	blockSources, ok := d.blockSources[key]
	if !ok {
		blockSources = set.NewSet[string](1)
	}
	blockSources.Add(source)
	d.blockSources[key] = blockSources

	unique := blockSources.Len()
	if unique >= d.config.WarningThreshold {
		return false
	}

	warning := Warning{
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
		Sources:     unique,
	}
	d.warnings = append(d.warnings, warning)
	d.metrics.warnings.Inc()

	d.log.Warn("low signature source diversity",
		log.Stringer("nodeID", nodeID),
		log.Uint64("block", blockNumber),
		log.Stringer("blockHash", blockHash),
		log.String("source", source),
		log.Int("uniqueSources", unique),
	)
	return true
}

// ValidateCertificateDiversity rejects a certificate for the block unless
// its signatures were seen from at least MinUniqueSources distinct sources.
// A block with no recorded signatures counts as a single source.
func (d *Detector) ValidateCertificateDiversity(blockNumber uint64, blockHash ids.ID, source string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	certSources, ok := d.certSources[blockNumber]
	if !ok {
		certSources = set.NewSet[string](1)
	}
	certSources.Add(source)
	d.certSources[blockNumber] = certSources

	unique := 1
	if blockSources, ok := d.blockSources[blockKey{number: blockNumber, hash: blockHash}]; ok {
		unique = blockSources.Len()
	}
	if unique < d.config.MinUniqueSources {
		d.metrics.rejectedCertificates.Inc()
		d.log.Error("eclipse attack suspected",
			log.Uint64("block", blockNumber),
			log.Stringer("blockHash", blockHash),
			log.Int("uniqueSources", unique),
			log.Int("minimum", d.config.MinUniqueSources),
		)
		return fmt.Errorf("%w: block %d has %d sources, minimum %d",
			ErrLowSourceDiversity, blockNumber, unique, d.config.MinUniqueSources)
	}
	return nil
}

// CheckEclipseRisk reports a risk when enough recent warnings accumulated
// or when any validator has only ever been seen from a single source.
func (d *Detector) CheckEclipseRisk() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.checkEclipseRisk()
}

func (d *Detector) checkEclipseRisk() bool {
	if recent := min(len(d.warnings), riskWindow); recent >= riskWarnings {
		d.log.Error("high eclipse risk",
			log.Int("recentWarnings", recent),
		)
		return true
	}
	for _, key := range d.validatorSources.Keys() {
		sources, ok := d.validatorSources.Peek(key)
		if !ok || sources.(set.Set[string]).Len() != 1 {
			continue
		}
		d.log.Warn("validator seen from a single source",
			log.Stringer("nodeID", key.(ids.NodeID)),
		)
		return true
	}
	return false
}

func (d *Detector) ValidatorSourceCount(nodeID ids.NodeID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sources, ok := d.validatorSet(nodeID)
	if !ok {
		return 0
	}
	return sources.Len()
}

func (d *Detector) BlockSourceCount(blockNumber uint64, blockHash ids.ID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.blockSources[blockKey{number: blockNumber, hash: blockHash}].Len()
}

// ValidatorSources returns the sources a validator was seen from, sorted.
func (d *Detector) ValidatorSources(nodeID ids.NodeID) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sources, ok := d.validatorSet(nodeID)
	if !ok {
		return nil
	}
	return sortedSources(sources)
}

func (d *Detector) BlockSources(blockNumber uint64, blockHash ids.ID) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return sortedSources(d.blockSources[blockKey{number: blockNumber, hash: blockHash}])
}

// RecentWarnings returns up to limit warnings, newest first.
func (d *Detector) RecentWarnings(limit int) []Warning {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.recentWarnings(limit)
}

func (d *Detector) recentWarnings(limit int) []Warning {
	n := min(max(limit, 0), len(d.warnings))
	recent := slices.Clone(d.warnings[len(d.warnings)-n:])
	slices.Reverse(recent)
	return recent
}

// ClearOldWarnings keeps only the newest keep warnings.
func (d *Detector) ClearOldWarnings(keep int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if keep >= 0 && len(d.warnings) > keep {
		d.warnings = slices.Clone(d.warnings[len(d.warnings)-keep:])
	}
}

// CleanupOldData forgets block and certificate sources below current-keep.
// Per-validator sources are bounded separately.
func (d *Detector) CleanupOldData(current, keep uint64) {
	var cutoff uint64
	if current > keep {
		cutoff = current - keep
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for key := range d.blockSources {
		if key.number < cutoff {
			delete(d.blockSources, key)
		}
	}
	for number := range d.certSources {
		if number < cutoff {
			delete(d.certSources, number)
		}
	}
}

func sortedSources(s set.Set[string]) []string {
	sources := s.List()
	slices.Sort(sources)
	return sources
}
