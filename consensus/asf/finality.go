// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package asf wires the finality managers into a single service: the
// HotStuff engine, committee rotation, Ant fallback, Byzantine exclusion,
// eclipse detection, long-range protection and the cross-chain bridge.
package asf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"golang.org/x/sync/errgroup"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/luxfi/asf/consensus/ant"
	"github.com/luxfi/asf/consensus/attestation"
	"github.com/luxfi/asf/consensus/byzantine"
	"github.com/luxfi/asf/consensus/committee"
	"github.com/luxfi/asf/consensus/eclipse"
	"github.com/luxfi/asf/consensus/hotstuff"
	"github.com/luxfi/asf/consensus/longrange"
	"github.com/luxfi/asf/consensus/signer"
	"github.com/luxfi/asf/consensus/slot"
	"github.com/luxfi/asf/utils/timer/mockable"
)

var (
	ErrAlreadyRunning     = errors.New("finality service already running")
	ErrNotCommitteeMember = errors.New("not a committee member")
	ErrQueenAnt           = errors.New("queen cannot produce an ant")
	ErrNotQueen           = errors.New("not the slot's queen")
	ErrMissingDatabase    = errors.New("database is required")
)

// Genesis seeds the service.
type Genesis struct {
	Time       time.Time
	BlockHash  ids.ID
	Validators []committee.ValidatorInfo
}

// Deps are the collaborators the service consumes.
type Deps struct {
	DB database.Database
	// Scheme verifies votes, certificates and attestations. Nil disables
	// signature checks.
	Scheme     *signer.Scheme
	Tracer     oteltrace.Tracer
	Registerer metric.Registerer
}

// checkpoint is the last finalized block the committee was expected to sign.
type checkpoint struct {
	number  uint64
	members []ids.NodeID
}

// Finality is the ASF finality service.
type Finality struct {
	log    log.Logger
	config Config
	clock  *mockable.Clock

	engine         *hotstuff.TracedEngine
	safety         *hotstuff.SafetyChecker
	liveness       *hotstuff.LivenessChecker
	forks          *hotstuff.ForkDetector
	committee      *committee.Manager
	ants           *ant.Manager
	detector       *byzantine.Detector
	tracker        *byzantine.Tracker
	exclusions     *byzantine.ExclusionManager
	accountability *byzantine.ForkAccountability
	eclipse        *eclipse.Detector
	protection     *longrange.Protection
	bridge         *attestation.BridgeSecurityManager
	scheduler      *slot.Scheduler

	mu             sync.RWMutex
	height         uint64
	lastCheckpoint checkpoint
	cancel         context.CancelFunc
	group          *errgroup.Group
}

func New(log log.Logger, config Config, genesis Genesis, deps Deps) (*Finality, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.DB == nil {
		return nil, ErrMissingDatabase
	}
	if deps.Registerer == nil {
		deps.Registerer = metric.NewRegistry()
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("asf")
	}

	engine, err := hotstuff.New(log, config.HotStuff, deps.Registerer)
	if err != nil {
		return nil, err
	}
	clock := engine.Clock()

	committeeManager, err := committee.New(log, config.Committee, deps.Registerer)
	if err != nil {
		return nil, err
	}
	ants, err := ant.New(log, config.Ant, deps.Registerer)
	if err != nil {
		return nil, err
	}
	tracker, err := byzantine.NewTracker(log, config.Tracker, deps.Registerer)
	if err != nil {
		return nil, err
	}
	exclusions, err := byzantine.NewExclusionManager(log, config.Exclusion, deps.DB, deps.Registerer)
	if err != nil {
		return nil, err
	}
	accountability, err := byzantine.NewForkAccountability(log, config.MaxTrackedCheckpoints, clock, deps.Registerer)
	if err != nil {
		return nil, err
	}
	eclipseDetector, err := eclipse.New(log, config.Eclipse, deps.Registerer)
	if err != nil {
		return nil, err
	}
	protection, err := longrange.New(log, config.LongRange, longrange.Genesis(genesis.BlockHash), deps.DB, clock)
	if err != nil {
		return nil, err
	}

	var verifier attestation.Verifier
	if deps.Scheme != nil {
		verifier = attestation.NewSignatureVerifier(deps.Scheme, config.SignatureCacheSize)
	}
	bridge, err := attestation.NewBridgeSecurityManager(log, config.Bridge, verifier, deps.Registerer)
	if err != nil {
		return nil, err
	}
	scheduler, err := slot.NewScheduler(genesis.Time, config.SlotDuration, clock)
	if err != nil {
		return nil, err
	}

	detector := byzantine.NewDetector(log, config.SuspicionThreshold, clock)
	engine.ConnectLedger(committeeManager)
	engine.ConnectAdmission(exclusions)
	bridge.ConnectLedger(committeeManager)
	engine.ConnectReporter(detector)
	if deps.Scheme != nil {
		engine.ConnectSignatureScheme(deps.Scheme)
	}

	f := &Finality{
		log:            log,
		config:         config,
		clock:          clock,
		engine:         hotstuff.Traced(engine, deps.Tracer),
		safety:         hotstuff.NewSafetyChecker(config.HotStuff.CommitteeSize),
		liveness:       hotstuff.NewLivenessChecker(config.StallTimeout, clock.Time()),
		forks:          hotstuff.NewForkDetector(),
		committee:      committeeManager,
		ants:           ants,
		detector:       detector,
		tracker:        tracker,
		exclusions:     exclusions,
		accountability: accountability,
		eclipse:        eclipseDetector,
		protection:     protection,
		bridge:         bridge,
		scheduler:      scheduler,
	}

	for _, info := range genesis.Validators {
		if err := committeeManager.AddValidator(info); err != nil {
			return nil, fmt.Errorf("failed to add genesis validator %s: %w", info.NodeID, err)
		}
	}
	if len(genesis.Validators) > 0 {
		if err := f.RotateEpoch(config.HotStuff.Epoch); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Finality) Clock() *mockable.Clock                        { return f.clock }
func (f *Finality) Engine() *hotstuff.Engine                      { return f.engine.Engine }
func (f *Finality) Committee() *committee.Manager                 { return f.committee }
func (f *Finality) Ants() *ant.Manager                            { return f.ants }
func (f *Finality) Detector() *byzantine.Detector                 { return f.detector }
func (f *Finality) Tracker() *byzantine.Tracker                   { return f.tracker }
func (f *Finality) Exclusions() *byzantine.ExclusionManager       { return f.exclusions }
func (f *Finality) Accountability() *byzantine.ForkAccountability { return f.accountability }
func (f *Finality) Eclipse() *eclipse.Detector                    { return f.eclipse }
func (f *Finality) Protection() *longrange.Protection             { return f.protection }
func (f *Finality) Bridge() *attestation.BridgeSecurityManager    { return f.bridge }
func (f *Finality) Scheduler() *slot.Scheduler                    { return f.scheduler }
func (f *Finality) Liveness() *hotstuff.LivenessChecker           { return f.liveness }

// Height is the highest block number the service has seen.
func (f *Finality) Height() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.height
}

func (f *Finality) observeHeight(blockNumber uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.height = max(f.height, blockNumber)
}

// RotateEpoch selects the committee for epoch and moves the engine to it.
// Nothing changes when no validator is eligible.
func (f *Finality) RotateEpoch(epoch uint64) error {
	if err := f.committee.RotateCommittee(epoch); err != nil {
		return fmt.Errorf("failed to rotate committee to epoch %d: %w", epoch, err)
	}
	size := uint64(f.committee.CommitteeSize())
	stake := f.committee.TotalCommitteeStake()
	if err := f.engine.UpdateCommittee(size, stake); err != nil {
		return err
	}
	f.engine.UpdateEpoch(epoch)
	f.safety.UpdateCommittee(size)
	f.tracker.SetCommitteeSize(size)
	f.SyncSlot()

	f.log.Info("entered epoch",
		log.Uint64("epoch", epoch),
		log.Uint64("committeeSize", size),
		log.Uint64("committeeStake", stake),
		log.Uint64("maxByzantine", f.safety.MaxByzantine()),
	)
	return nil
}

// ProposeBlock starts consensus on a block.
func (f *Finality) ProposeBlock(ctx context.Context, blockHash ids.ID, blockNumber uint64) error {
	if err := f.engine.StartConsensus(ctx, blockHash, blockNumber); err != nil {
		return err
	}
	f.observeHeight(blockNumber)

	f.forks.RecordBlock(blockNumber, blockHash)
	if f.forks.HasForkAt(blockNumber) {
		f.log.Warn("competing blocks at height",
			log.Uint64("blockNumber", blockNumber),
			log.Stringer("blockHash", blockHash),
		)
	}
	return nil
}

// ProcessVote hands a vote to the engine. source identifies the peer the
// vote arrived from; an empty source marks a local vote.
func (f *Finality) ProcessVote(ctx context.Context, vote *hotstuff.Vote, source string) (*hotstuff.Certificate, error) {
	if source != "" {
		f.eclipse.ValidateSignatureDiversity(vote.Validator, vote.BlockNumber, vote.BlockHash, source)
	}
	cert, err := f.engine.ProcessVote(ctx, vote)
	if err != nil {
		if errors.Is(err, hotstuff.ErrInvalidSignature) {
			f.detector.ReportSuspicious(vote.Validator, byzantine.InvalidSignature)
		}
		return nil, err
	}
	if cert != nil {
		if err := f.onCertificate(vote.BlockHash, vote.BlockNumber); err != nil {
			return cert, err
		}
	}
	return cert, nil
}

// ProcessCertificate adopts a certificate received from source. Remote
// certificates are refused unless the block's signatures arrived from
// enough distinct sources.
func (f *Finality) ProcessCertificate(ctx context.Context, cert *hotstuff.Certificate, source string) error {
	if source != "" {
		if err := f.eclipse.ValidateCertificateDiversity(cert.BlockNumber, cert.BlockHash, source); err != nil {
			return err
		}
	}
	if err := f.engine.ProcessCertificate(ctx, cert); err != nil {
		if errors.Is(err, hotstuff.ErrInvalidSignature) || errors.Is(err, hotstuff.ErrInvalidCertificate) {
			f.detector.ReportSuspicious(cert.Issuer, byzantine.InvalidCertificate)
		}
		return err
	}
	return f.onCertificate(cert.BlockHash, cert.BlockNumber)
}

// onCertificate records a newly finalized block as a checkpoint the
// committee is expected to sign.
func (f *Finality) onCertificate(blockHash ids.ID, blockNumber uint64) error {
	if !f.engine.IsFinalized(blockHash) || f.safety.IsFinalized(blockHash) || f.safety.IsPruned(blockNumber) {
		return nil
	}
	if err := f.safety.MarkFinalized(blockHash, blockNumber); err != nil {
		f.log.Error("conflicting finalization",
			log.Stringer("blockHash", blockHash),
			log.Uint64("blockNumber", blockNumber),
			log.Err(err),
		)
		return err
	}
	now := f.clock.Time()
	f.liveness.RecordFinalized(blockNumber, now)

	members := f.committeeIDs()
	f.tracker.RecordCheckpointOpportunity(blockNumber, members)

	f.mu.Lock()
	previous := f.lastCheckpoint
	f.lastCheckpoint = checkpoint{
		number:  blockNumber,
		members: members,
	}
	f.mu.Unlock()

	for _, nodeID := range previous.members {
		if !f.accountability.HasSignedAtHeight(nodeID, previous.number) {
			f.tracker.RecordMissedCheckpoint(nodeID, previous.number)
		}
	}

	f.log.Info("finalized block",
		log.Stringer("blockHash", blockHash),
		log.Uint64("blockNumber", blockNumber),
		log.Stringer("level", f.engine.FinalityLevel(blockHash)),
	)
	return nil
}

// ObserveSignature records a validator's checkpoint signature received from
// source. Signatures from expired authority sets or excluded validators are
// rejected. A signature conflicting with one already seen at the same height
// returns the equivocation evidence with byzantine.ErrEquivocation.
func (f *Finality) ObserveSignature(sig byzantine.SignedCheckpoint, source string) (*byzantine.EquivocationEvidence, error) {
	if err := f.protection.VerifyAuthoritySet(sig.AuthoritySetID); err != nil {
		return nil, err
	}
	if !f.exclusions.CanParticipate(sig.NodeID, sig.BlockNumber) {
		return nil, fmt.Errorf("%w: %s", hotstuff.ErrValidatorExcluded, sig.NodeID)
	}
	if source != "" {
		f.eclipse.ValidateSignatureDiversity(sig.NodeID, sig.BlockNumber, sig.BlockHash, source)
	}

	seen := f.accountability.HasSignedAtHeight(sig.NodeID, sig.BlockNumber)
	evidence, err := f.accountability.CheckAndRecordSignature(sig)
	if err != nil {
		if evidence != nil {
			f.detector.ReportSuspicious(sig.NodeID, byzantine.ConflictingVotes)
			f.tracker.MarkConfirmedByzantine(sig.NodeID, "equivocation")
		}
		return evidence, err
	}
	if !seen {
		f.tracker.RecordSignature(sig.NodeID, sig.BlockNumber, sig.Timestamp)
	}
	return nil, nil
}

func (f *Finality) committeeIDs() []ids.NodeID {
	members := f.committee.CurrentCommittee()
	nodeIDs := make([]ids.NodeID, len(members))
	for i, member := range members {
		nodeIDs[i] = member.NodeID
	}
	return nodeIDs
}

func (f *Finality) FinalityLevel(blockHash ids.ID) hotstuff.FinalityLevel {
	return f.engine.FinalityLevel(blockHash)
}

func (f *Finality) IsFinalized(blockHash ids.ID) bool {
	return f.engine.IsFinalized(blockHash)
}

func (f *Finality) CurrentCommittee() []committee.Member {
	return f.committee.CurrentCommittee()
}

// CurrentProposer returns the queen of the current slot.
func (f *Finality) CurrentProposer() (committee.Member, bool) {
	return f.committee.ProposerForSlot(f.scheduler.CurrentSlot())
}

// SyncSlot moves the committee's PPFA index to the current slot and returns
// that slot.
func (f *Finality) SyncSlot() uint64 {
	current := f.scheduler.CurrentSlot()
	f.committee.SyncPPFAIndex(current)
	return current
}

func (f *Finality) IsValidatorAllowed(nodeID ids.NodeID, blockNumber uint64) bool {
	return f.exclusions.IsValidatorAllowed(nodeID, blockNumber)
}

func (f *Finality) GetFinalizedAttestation(blockHash ids.ID) (*attestation.MultiSigAttestation, bool) {
	return f.bridge.Finalized(blockHash)
}

// SubmitAttestation opens the challenge period of a at the current height.
func (f *Finality) SubmitAttestation(a *attestation.MultiSigAttestation) error {
	return f.bridge.SubmitAttestation(a, f.Height())
}

func (f *Finality) ChallengeAttestation(blockHash ids.ID) error {
	return f.bridge.ChallengeAttestation(blockHash, f.Height())
}

func (f *Finality) FinalizeAttestation(blockHash ids.ID) error {
	return f.bridge.FinalizeAttestation(blockHash, f.Height())
}
