// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package attestation

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/asf/consensus/hotstuff"
	"github.com/luxfi/asf/utils/wrappers"
)

const (
	DefaultMinAttestationStake = 1_000_000_000_000
	DefaultSlashAmount         = 10 * DefaultMinAttestationStake
	DefaultChallengePeriod     = 100
)

var (
	ErrNoAttestations         = errors.New("no attestations")
	ErrInsufficientStake      = errors.New("insufficient attested stake")
	ErrInsufficientFinality   = errors.New("insufficient attested finality")
	ErrDuplicateAttestation   = errors.New("attestation already submitted")
	ErrAttestationNotFound    = errors.New("attestation not found")
	ErrChallengePeriodActive  = errors.New("challenge period active")
	ErrChallengePeriodExpired = errors.New("challenge period expired")
	ErrAlreadyChallenged      = errors.New("attestation already challenged")
	ErrInvalidBridgeConfig    = errors.New("invalid bridge config")
	ErrUnregisteredStake      = errors.New("attested stake differs from registered stake")
)

type BridgeConfig struct {
	MinAttestationStake uint64
	// SlashAmount is what an attester loses for a proven fraudulent
	// attestation. Slashing itself is done by the staking layer.
	SlashAmount uint64
	// ChallengePeriod is the number of relay blocks an attestation stays
	// open to challenges.
	ChallengePeriod uint64
	MinFinality     hotstuff.FinalityLevel
}

func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		MinAttestationStake: DefaultMinAttestationStake,
		SlashAmount:         DefaultSlashAmount,
		ChallengePeriod:     DefaultChallengePeriod,
		MinFinality:         hotstuff.FinalityStrong,
	}
}

func (c BridgeConfig) Validate() error {
	switch {
	case c.ChallengePeriod == 0:
		return fmt.Errorf("%w: challenge period is zero", ErrInvalidBridgeConfig)
	case c.MinFinality < hotstuff.FinalityStrong || c.MinFinality > hotstuff.FinalityIrreversible:
		return fmt.Errorf("%w: min finality %s", ErrInvalidBridgeConfig, c.MinFinality)
	default:
		return nil
	}
}

// Record is a submitted attestation waiting out its challenge period.
type Record struct {
	Attestation       *MultiSigAttestation
	SubmittedAt       uint64
	ChallengeDeadline uint64
	Challenged        bool
}

type bridgeMetrics struct {
	pending    metric.Gauge
	finalized  metric.Counter
	challenged metric.Counter
}

func newBridgeMetrics(registerer metric.Registerer) (*bridgeMetrics, error) {
	m := &bridgeMetrics{
		pending: metric.NewGauge(metric.GaugeOpts{
			Name: "bridge_pending_attestations",
			Help: "Number of attestations inside their challenge period",
		}),
		finalized: metric.NewCounter(metric.CounterOpts{
			Name: "bridge_finalized_attestations",
			Help: "Number of attestations finalized",
		}),
		challenged: metric.NewCounter(metric.CounterOpts{
			Name: "bridge_challenged_attestations",
			Help: "Number of attestations challenged",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(metric.AsCollector(m.pending)),
		registerer.Register(metric.AsCollector(m.finalized)),
		registerer.Register(metric.AsCollector(m.challenged)),
	)
	return m, errs.Err
}

// BridgeSecurityManager holds attestations for a challenge period before
// accepting them. A challenged attestation is never finalized
// automatically.
type BridgeSecurityManager struct {
	mu sync.RWMutex

	log      log.Logger
	config   BridgeConfig
	verifier Verifier
	ledger   hotstuff.StakeLedger
	metrics  *bridgeMetrics

	pending   map[ids.ID]*Record
	finalized map[ids.ID]*MultiSigAttestation
}

// NewBridgeSecurityManager skips signature checks when verifier is nil.
func NewBridgeSecurityManager(
	log log.Logger,
	config BridgeConfig,
	verifier Verifier,
	registerer metric.Registerer,
) (*BridgeSecurityManager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	m, err := newBridgeMetrics(registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register bridge metrics: %w", err)
	}
	return &BridgeSecurityManager{
		log:       log,
		config:    config,
		verifier:  verifier,
		metrics:   m,
		pending:   make(map[ids.ID]*Record),
		finalized: make(map[ids.ID]*MultiSigAttestation),
	}, nil
}

func (b *BridgeSecurityManager) Config() BridgeConfig {
	return b.config
}

// ConnectLedger makes submissions check every attester's stake against
// ledger.
func (b *BridgeSecurityManager) ConnectLedger(ledger hotstuff.StakeLedger) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ledger = ledger
}

// SubmitAttestation opens the challenge period of a. Submissions are keyed
// by target block hash.
func (b *BridgeSecurityManager) SubmitAttestation(a *MultiSigAttestation, relayBlock uint64) error {
	if a.Len() == 0 {
		return ErrNoAttestations
	}
	if err := b.verifyAttesters(a); err != nil {
		return err
	}
	if stake := a.TotalStake(); stake < b.config.MinAttestationStake {
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientStake, stake, b.config.MinAttestationStake)
	}
	if level := a.MinFinality(); level < b.config.MinFinality {
		return fmt.Errorf("%w: got %s, need %s", ErrInsufficientFinality, level, b.config.MinFinality)
	}
	if b.verifier != nil {
		for _, single := range a.Attestations() {
			if err := b.verifier.VerifyAttestation(single); err != nil {
				return err
			}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	blockHash := a.TargetBlockHash
	if _, ok := b.pending[blockHash]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAttestation, blockHash)
	}
	if _, ok := b.finalized[blockHash]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAttestation, blockHash)
	}

	record := &Record{
		Attestation:       a,
		SubmittedAt:       relayBlock,
		ChallengeDeadline: relayBlock + b.config.ChallengePeriod,
	}
	b.pending[blockHash] = record
	b.metrics.pending.Set(float64(len(b.pending)))

	b.log.Info("attestation submitted",
		log.Stringer("blockHash", blockHash),
		log.Uint64("blockNumber", a.TargetBlockNumber),
		log.Uint64("stake", a.TotalStake()),
		log.Uint64("challengeDeadline", record.ChallengeDeadline),
	)
	return nil
}

// verifyAttesters rechecks every entry against the target block and, when a
// ledger is connected, against the attester's registered stake.
func (b *BridgeSecurityManager) verifyAttesters(a *MultiSigAttestation) error {
	b.mu.RLock()
	ledger := b.ledger
	b.mu.RUnlock()

	for _, entry := range a.entries {
		single := entry.attestation
		if !a.targets(single) {
			return fmt.Errorf("%w: %s at %d", ErrAttestationMismatch, single.TargetBlockHash(), single.TargetBlockNumber())
		}
		if ledger == nil {
			continue
		}
		attester := single.Attester()
		if !ledger.IsStakedValidator(attester) {
			return fmt.Errorf("%w: %s is not a staked validator", ErrUnregisteredStake, attester)
		}
		if registered := ledger.StakeOf(attester); registered != entry.stake {
			return fmt.Errorf("%w: %s attested with %d, registered %d", ErrUnregisteredStake, attester, entry.stake, registered)
		}
	}
	return nil
}

// ChallengeAttestation flags a pending attestation as fraudulent. Challenges
// are accepted up to and including the deadline.
func (b *BridgeSecurityManager) ChallengeAttestation(blockHash ids.ID, relayBlock uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.pending[blockHash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAttestationNotFound, blockHash)
	}
	if relayBlock > record.ChallengeDeadline {
		return fmt.Errorf("%w: deadline %d, now %d", ErrChallengePeriodExpired, record.ChallengeDeadline, relayBlock)
	}
	if record.Challenged {
		return fmt.Errorf("%w: %s", ErrAlreadyChallenged, blockHash)
	}
	record.Challenged = true
	b.metrics.challenged.Inc()

	b.log.Warn("attestation challenged",
		log.Stringer("blockHash", blockHash),
		log.Uint64("relayBlock", relayBlock),
	)
	return nil
}

// FinalizeAttestation accepts an unchallenged attestation once its deadline
// is reached. A challenged attestation stays pending and reports a safety
// violation for manual resolution.
func (b *BridgeSecurityManager) FinalizeAttestation(blockHash ids.ID, relayBlock uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.finalize(blockHash, relayBlock)
}

func (b *BridgeSecurityManager) finalize(blockHash ids.ID, relayBlock uint64) error {
	record, ok := b.pending[blockHash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAttestationNotFound, blockHash)
	}
	if relayBlock < record.ChallengeDeadline {
		return fmt.Errorf("%w: deadline %d, now %d", ErrChallengePeriodActive, record.ChallengeDeadline, relayBlock)
	}
	if record.Challenged {
		return fmt.Errorf("%w: attestation for %s was challenged", hotstuff.ErrSafetyViolation, blockHash)
	}

	delete(b.pending, blockHash)
	b.finalized[blockHash] = record.Attestation
	b.metrics.pending.Set(float64(len(b.pending)))
	b.metrics.finalized.Inc()

	b.log.Info("attestation finalized",
		log.Stringer("blockHash", blockHash),
		log.Uint64("relayBlock", relayBlock),
	)
	return nil
}

// ProcessExpired finalizes every unchallenged attestation whose deadline
// has been reached and returns their block hashes in order.
func (b *BridgeSecurityManager) ProcessExpired(relayBlock uint64) []ids.ID {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []ids.ID
	for blockHash, record := range b.pending {
		if relayBlock >= record.ChallengeDeadline && !record.Challenged {
			expired = append(expired, blockHash)
		}
	}
	slices.SortFunc(expired, func(x, y ids.ID) int {
		return bytes.Compare(x[:], y[:])
	})

	finalized := expired[:0]
	for _, blockHash := range expired {
		if err := b.finalize(blockHash, relayBlock); err == nil {
			finalized = append(finalized, blockHash)
		}
	}
	return finalized
}

// Pending returns a copy of the pending record for the block.
func (b *BridgeSecurityManager) Pending(blockHash ids.ID) (Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	record, ok := b.pending[blockHash]
	if !ok {
		return Record{}, false
	}
	return *record, true
}

func (b *BridgeSecurityManager) Finalized(blockHash ids.ID) (*MultiSigAttestation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	a, ok := b.finalized[blockHash]
	return a, ok
}

func (b *BridgeSecurityManager) PendingCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.pending)
}

func (b *BridgeSecurityManager) FinalizedCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.finalized)
}
