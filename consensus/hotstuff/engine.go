// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
	"github.com/luxfi/metric"

	"github.com/luxfi/asf/utils/timer/mockable"

	safemath "github.com/luxfi/asf/utils/math"
)

const finalizedTreeDegree = 16

// finalizedEntry orders finalized blocks oldest first for pruning.
type finalizedEntry struct {
	blockNumber uint64
	seq         uint64
	blockHash   ids.ID
}

func (e finalizedEntry) Less(o finalizedEntry) bool {
	if e.blockNumber != o.blockNumber {
		return e.blockNumber < o.blockNumber
	}
	return e.seq < o.seq
}

// Engine runs HotStuff for many blocks at once. Each block is an independent
// State; the engine routes votes and certificates to it.
type Engine struct {
	mu sync.RWMutex

	log     log.Logger
	config  Config
	metrics *engineMetrics
	clock   mockable.Clock

	// Collaborators, all optional.
	ledger    StakeLedger
	admission Admission
	reporter  EquivocationReporter
	scheme    SignatureScheme

	states       map[ids.ID]*State
	finalized    *btree.BTreeG[finalizedEntry]
	finalizedSeq uint64
}

// New creates an engine from a validated config.
func New(log log.Logger, config Config, registerer metric.Registerer) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("hotstuff config: %w", err)
	}
	m, err := newEngineMetrics(registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register hotstuff metrics: %w", err)
	}
	return &Engine{
		log:       log,
		config:    config,
		metrics:   m,
		states:    make(map[ids.ID]*State),
		finalized: btree.NewG(finalizedTreeDegree, finalizedEntry.Less),
	}, nil
}

// ConnectLedger makes the engine check vote stake against ledger.
func (e *Engine) ConnectLedger(ledger StakeLedger) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger = ledger
}

// ConnectAdmission installs the participation gate consulted for every vote.
func (e *Engine) ConnectAdmission(admission Admission) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.admission = admission
}

// ConnectReporter installs the sink for duplicate votes.
func (e *Engine) ConnectReporter(reporter EquivocationReporter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reporter = reporter
}

// ConnectSignatureScheme enables signature verification and aggregation.
func (e *Engine) ConnectSignatureScheme(scheme SignatureScheme) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.scheme = scheme
}

// Clock exposes the engine clock so tests can pin certificate timestamps.
func (e *Engine) Clock() *mockable.Clock {
	return &e.clock
}

// StartConsensus begins tracking a block in the Prepare phase.
func (e *Engine) StartConsensus(blockHash ids.ID, blockNumber uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.states[blockHash]; ok {
		return fmt.Errorf("%w: %s", ErrBlockAlreadyTracked, blockHash)
	}
	if e.config.MaxActiveBlocks > 0 && len(e.states) >= e.config.MaxActiveBlocks {
		return fmt.Errorf("%w: %d tracked", ErrTooManyBlocks, len(e.states))
	}

	e.states[blockHash] = NewState(blockHash, blockNumber, e.config.Epoch)
	e.metrics.activeBlocks.Set(float64(len(e.states)))

	e.log.Debug("started consensus",
		log.Stringer("blockHash", blockHash),
		log.Uint64("blockNumber", blockNumber),
		log.Uint64("epoch", e.config.Epoch),
	)
	return nil
}

// ProcessVote validates vote and adds it to its block's collection for the
// current phase. When both quorums are met a certificate is minted, recorded
// and returned, and the block advances. Votes for any phase other than the
// current one are rejected, never buffered.
func (e *Engine) ProcessVote(vote *Vote) (*Certificate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cert, err := e.processVote(vote)
	if err != nil {
		e.metrics.votesRejected.Inc()
		e.log.Debug("rejected vote",
			log.Stringer("blockHash", vote.BlockHash),
			log.Stringer("phase", vote.Phase),
			log.Stringer("validator", vote.Validator),
			log.Err(err),
		)
	}
	return cert, err
}

func (e *Engine) processVote(vote *Vote) (*Certificate, error) {
	if err := vote.Verify(e.config.Epoch); err != nil {
		return nil, err
	}
	if e.ledger != nil {
		if !e.ledger.IsStakedValidator(vote.Validator) {
			return nil, fmt.Errorf("%w: %s is not a staked validator", ErrInvalidVote, vote.Validator)
		}
		if stake := e.ledger.StakeOf(vote.Validator); stake != vote.StakeWeight {
			return nil, fmt.Errorf("%w: stake weight %d, registered %d", ErrInvalidVote, vote.StakeWeight, stake)
		}
	}

	state, ok := e.states[vote.BlockHash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, vote.BlockHash)
	}
	if vote.BlockNumber != state.blockNumber {
		return nil, fmt.Errorf("%w: block number %d, tracked %d", ErrInvalidVote, vote.BlockNumber, state.blockNumber)
	}
	if e.admission != nil && !e.admission.CanParticipate(vote.Validator, state.blockNumber) {
		return nil, fmt.Errorf("%w: %s", ErrValidatorExcluded, vote.Validator)
	}
	if vote.Phase != state.phase {
		return nil, fmt.Errorf("%w: vote for %s while block is in %s", ErrInvalidPhaseTransition, vote.Phase, state.phase)
	}
	votes, ok := state.Votes(state.phase)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlockFinalized, vote.BlockHash)
	}
	if e.scheme != nil {
		if err := e.scheme.VerifyVote(vote); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
	}

	if err := votes.Add(vote); err != nil {
		if errors.Is(err, ErrDuplicateVote) && e.reporter != nil {
			e.reporter.ReportDuplicateVote(vote.Validator, vote.BlockHash, vote.Phase)
		}
		return nil, err
	}
	e.metrics.votesProcessed.Inc()

	if !votes.MeetsThreshold(e.config.CommitteeSize) || !votes.MeetsStakeThreshold(e.config.TotalStake) {
		return nil, nil
	}

	cert, err := e.mintCertificate(state, votes)
	if err != nil {
		return nil, err
	}
	if err := state.certificates.Add(cert); err != nil {
		return nil, err
	}
	e.metrics.certificatesMinted.Inc()

	if err := e.advance(state); err != nil {
		return nil, err
	}
	return cert, nil
}

// mintCertificate aggregates the collection. The first voter is the issuer.
func (e *Engine) mintCertificate(state *State, votes *VoteCollection) (*Certificate, error) {
	collected := votes.Votes()
	first := collected[0]

	cert := &Certificate{
		BlockHash:   state.blockHash,
		BlockNumber: state.blockNumber,
		Phase:       state.phase,
		Issuer:      first.Validator,
		IssuerStake: first.StakeWeight,
		Epoch:       e.config.Epoch,
		Timestamp:   e.clock.UnixMilli(),
		Aggregate:   votes.Aggregate(),
		Signers:     make([]ids.NodeID, 0, len(collected)),
	}
	signatures := make([][]byte, 0, len(collected))
	for _, v := range collected {
		cert.Signers = append(cert.Signers, v.Validator)
		signatures = append(signatures, v.Signature)
	}

	if e.scheme != nil {
		sig, err := e.scheme.Aggregate(signatures)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate %d signatures: %w", len(signatures), err)
		}
		cert.Signature = sig
	}
	return cert, nil
}

// ProcessCertificate adopts a certificate received from another validator.
// Once the current phase holds a quorum of certificates the block advances.
func (e *Engine) ProcessCertificate(cert *Certificate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := cert.Verify(e.config.CommitteeSize, e.config.TotalStake, e.config.Epoch); err != nil {
		return err
	}
	state, ok := e.states[cert.BlockHash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, cert.BlockHash)
	}
	if cert.BlockNumber != state.blockNumber {
		return fmt.Errorf("%w: block number %d, tracked %d", ErrInvalidCertificate, cert.BlockNumber, state.blockNumber)
	}
	if e.ledger != nil {
		if err := e.verifyLedgerStake(cert); err != nil {
			return err
		}
	}
	if e.scheme != nil {
		if err := e.scheme.VerifyCertificate(cert); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
	}

	before := state.FinalityLevel()
	if err := state.certificates.Add(cert); err != nil {
		return err
	}
	e.metrics.certificatesAdopted.Inc()

	if after := state.FinalityLevel(); after != before {
		e.log.Info("finality level increased",
			log.Stringer("blockHash", state.blockHash),
			log.Stringer("level", after),
			log.Int("certificates", state.certificates.Count()),
		)
	}

	if state.finalized {
		return nil
	}
	if uint64(state.certificates.CountForPhase(state.phase)) >= Threshold(e.config.CommitteeSize) {
		return e.advance(state)
	}
	return nil
}

// verifyLedgerStake recomputes the stake behind cert from the ledger. The
// aggregate a certificate claims is only trusted when the signers' registered
// stake backs it.
func (e *Engine) verifyLedgerStake(cert *Certificate) error {
	if len(cert.Signers) == 0 {
		return fmt.Errorf("%w: no signers to check stake against", ErrInvalidCertificate)
	}
	if stake := e.ledger.StakeOf(cert.Issuer); stake != cert.IssuerStake {
		return fmt.Errorf("%w: issuer stake %d, registered %d", ErrInvalidCertificate, cert.IssuerStake, stake)
	}

	seen := set.NewSet[ids.NodeID](len(cert.Signers))
	var total uint64
	for _, signer := range cert.Signers {
		if seen.Contains(signer) {
			return fmt.Errorf("%w: duplicate signer %s", ErrInvalidCertificate, signer)
		}
		seen.Add(signer)
		if !e.ledger.IsStakedValidator(signer) {
			return fmt.Errorf("%w: %s is not a staked validator", ErrInvalidCertificate, signer)
		}
		sum, err := safemath.Add(total, e.ledger.StakeOf(signer))
		if err != nil {
			return fmt.Errorf("%w: signer stake overflows", ErrInvalidCertificate)
		}
		total = sum
	}

	if need := StakeThreshold(e.config.TotalStake); total < need {
		return fmt.Errorf("%w: signers hold %d, need %d", ErrInsufficientStake, total, need)
	}
	if total != cert.Aggregate.TotalStake {
		return fmt.Errorf("%w: aggregate claims %d stake, signers hold %d", ErrInvalidCertificate, cert.Aggregate.TotalStake, total)
	}
	return nil
}

func (e *Engine) advance(state *State) error {
	from := state.phase
	if err := state.Advance(); err != nil {
		return err
	}

	e.log.Info("advanced phase",
		log.Stringer("blockHash", state.blockHash),
		log.Uint64("blockNumber", state.blockNumber),
		log.Stringer("from", from),
		log.Stringer("to", state.phase),
	)

	if state.finalized {
		e.finalizedSeq++
		e.finalized.ReplaceOrInsert(finalizedEntry{
			blockNumber: state.blockNumber,
			seq:         e.finalizedSeq,
			blockHash:   state.blockHash,
		})
		e.metrics.blocksFinalized.Inc()
	}
	return nil
}

// ViewChange resets a block that has not been finalized back to Prepare.
func (e *Engine) ViewChange(blockHash ids.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.states[blockHash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, blockHash)
	}
	if state.finalized {
		return fmt.Errorf("%w: %s", ErrBlockFinalized, blockHash)
	}
	state.Reset()

	e.log.Info("view change",
		log.Stringer("blockHash", blockHash),
		log.Uint64("blockNumber", state.blockNumber),
	)
	return nil
}

// State returns a snapshot of a tracked block.
func (e *Engine) State(blockHash ids.ID) (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state, ok := e.states[blockHash]
	if !ok {
		return Snapshot{}, false
	}
	return state.Snapshot(), true
}

// Certificates returns the certificates recorded for a block.
func (e *Engine) Certificates(blockHash ids.ID) []*Certificate {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state, ok := e.states[blockHash]
	if !ok {
		return nil
	}
	return state.certificates.All()
}

// IsFinalized reports whether a tracked block is logically finalized or has a
// non-zero finality level.
func (e *Engine) IsFinalized(blockHash ids.ID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state, ok := e.states[blockHash]
	return ok && state.IsFinalized()
}

// FinalityLevel returns the level of a block, FinalityNone if untracked.
func (e *Engine) FinalityLevel(blockHash ids.ID) FinalityLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state, ok := e.states[blockHash]
	if !ok {
		return FinalityNone
	}
	return state.FinalityLevel()
}

// UpdateEpoch sets the epoch new votes and blocks must carry.
func (e *Engine) UpdateEpoch(epoch uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.config.Epoch = epoch
	e.log.Info("updated epoch", log.Uint64("epoch", epoch))
}

// UpdateCommittee sets the committee size and stake used for quorums.
func (e *Engine) UpdateCommittee(size, totalStake uint64) error {
	if size == 0 {
		return ErrInvalidCommitteeSize
	}
	if totalStake == 0 {
		return ErrInvalidTotalStake
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.config.CommitteeSize = size
	e.config.TotalStake = totalStake
	e.log.Info("updated committee",
		log.Uint64("size", size),
		log.Uint64("totalStake", totalStake),
	)
	return nil
}

// Epoch returns the current epoch.
func (e *Engine) Epoch() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.config.Epoch
}

// PhaseTimeout returns the timeout for phase under the engine's base timeout.
func (e *Engine) PhaseTimeout(phase Phase) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return PhaseTimeout(phase, e.config.BaseTimeout)
}

// PruneFinalized drops the oldest finalized blocks so at most keepLastN
// remain. It returns the number of blocks removed.
func (e *Engine) PruneFinalized(keepLastN int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for e.finalized.Len() > keepLastN {
		oldest, ok := e.finalized.DeleteMin()
		if !ok {
			break
		}
		delete(e.states, oldest.blockHash)
		removed++
	}
	if removed > 0 {
		e.metrics.activeBlocks.Set(float64(len(e.states)))
		e.log.Debug("pruned finalized blocks",
			log.Int("removed", removed),
			log.Int("remaining", len(e.states)),
		)
	}
	return removed
}

// Prune applies the configured finalized retention.
func (e *Engine) Prune() int {
	e.mu.RLock()
	keep := e.config.KeepFinalized
	e.mu.RUnlock()

	return e.PruneFinalized(keep)
}

// ActiveBlocks returns the hashes of every tracked block.
func (e *Engine) ActiveBlocks() []ids.ID {
	e.mu.RLock()
	defer e.mu.RUnlock()

	blocks := make([]ids.ID, 0, len(e.states))
	for blockHash := range e.states {
		blocks = append(blocks, blockHash)
	}
	return blocks
}

func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.states)
}
