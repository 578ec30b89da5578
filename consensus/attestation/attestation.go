// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package attestation

import (
	"errors"
	"fmt"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/ids"

	"github.com/luxfi/asf/consensus/hotstuff"
	safemath "github.com/luxfi/asf/utils/math"
)

var (
	ErrAttestationMismatch = errors.New("attestation does not match target block")
	ErrDuplicateAttester   = errors.New("duplicate attester")
	ErrStakeOverflow       = errors.New("attested stake overflows")
)

type unsignedAttestation struct {
	SourceChain       ids.ID                 `serialize:"true"`
	TargetChain       ids.ID                 `serialize:"true"`
	TargetBlockHash   ids.ID                 `serialize:"true"`
	TargetBlockNumber uint64                 `serialize:"true"`
	FinalityLevel     hotstuff.FinalityLevel `serialize:"true"`
	Attester          ids.NodeID             `serialize:"true"`
	RelayBlock        uint64                 `serialize:"true"`
}

// CrossChainAttestation is one validator's claim about the finality of a
// block on another chain.
type CrossChainAttestation struct {
	unsignedAttestation `serialize:"true"`

	Signature []byte `serialize:"true"`
}

func NewCrossChainAttestation(
	sourceChain ids.ID,
	targetChain ids.ID,
	targetBlockHash ids.ID,
	targetBlockNumber uint64,
	level hotstuff.FinalityLevel,
	attester ids.NodeID,
	relayBlock uint64,
) *CrossChainAttestation {
	return &CrossChainAttestation{
		unsignedAttestation: unsignedAttestation{
			SourceChain:       sourceChain,
			TargetChain:       targetChain,
			TargetBlockHash:   targetBlockHash,
			TargetBlockNumber: targetBlockNumber,
			FinalityLevel:     level,
			Attester:          attester,
			RelayBlock:        relayBlock,
		},
	}
}

func (a *CrossChainAttestation) SourceChain() ids.ID { return a.unsignedAttestation.SourceChain }
func (a *CrossChainAttestation) TargetChain() ids.ID { return a.unsignedAttestation.TargetChain }
func (a *CrossChainAttestation) TargetBlockHash() ids.ID {
	return a.unsignedAttestation.TargetBlockHash
}
func (a *CrossChainAttestation) TargetBlockNumber() uint64 {
	return a.unsignedAttestation.TargetBlockNumber
}
func (a *CrossChainAttestation) FinalityLevel() hotstuff.FinalityLevel {
	return a.unsignedAttestation.FinalityLevel
}
func (a *CrossChainAttestation) Attester() ids.NodeID { return a.unsignedAttestation.Attester }
func (a *CrossChainAttestation) RelayBlock() uint64   { return a.unsignedAttestation.RelayBlock }

// UnsignedBytes returns the bytes covered by the signature.
func (a *CrossChainAttestation) UnsignedBytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, &a.unsignedAttestation)
}

func (a *CrossChainAttestation) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, a)
}

func Parse(b []byte) (*CrossChainAttestation, error) {
	a := &CrossChainAttestation{}
	if _, err := Codec.Unmarshal(b, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Hash identifies the attested claim. It does not cover the signature.
func (a *CrossChainAttestation) Hash() (ids.ID, error) {
	b, err := a.UnsignedBytes()
	if err != nil {
		return ids.Empty, err
	}
	return hash.ComputeHash256Array(b), nil
}

func (a *CrossChainAttestation) Sign(sk bls.Signer) error {
	unsignedBytes, err := a.UnsignedBytes()
	if err != nil {
		return err
	}
	sig, err := sk.Sign(unsignedBytes)
	if err != nil {
		return fmt.Errorf("failed to sign attestation: %w", err)
	}
	a.Signature = bls.SignatureToBytes(sig)
	return nil
}

type multiSigDigest struct {
	TargetChain       ids.ID   `serialize:"true"`
	TargetBlockHash   ids.ID   `serialize:"true"`
	TargetBlockNumber uint64   `serialize:"true"`
	Attestations      []ids.ID `serialize:"true"`
}

type attested struct {
	attestation *CrossChainAttestation
	stake       uint64
}

// MultiSigAttestation gathers attestations from many validators about the
// same target block. The stake and finality summaries are always derived
// from the attestations themselves.
type MultiSigAttestation struct {
	TargetChain       ids.ID
	TargetBlockHash   ids.ID
	TargetBlockNumber uint64

	entries []attested
}

func NewMultiSigAttestation(targetChain ids.ID, targetBlockHash ids.ID, targetBlockNumber uint64) *MultiSigAttestation {
	return &MultiSigAttestation{
		TargetChain:       targetChain,
		TargetBlockHash:   targetBlockHash,
		TargetBlockNumber: targetBlockNumber,
	}
}

// AddAttestation adds a validator's attestation backed by stake. The
// attestation must name the same target block, and each attester may
// contribute once.
func (m *MultiSigAttestation) AddAttestation(a *CrossChainAttestation, stake uint64) error {
	if !m.targets(a) {
		return fmt.Errorf("%w: %s at %d", ErrAttestationMismatch, a.TargetBlockHash(), a.TargetBlockNumber())
	}
	for _, existing := range m.entries {
		if existing.attestation.Attester() == a.Attester() {
			return fmt.Errorf("%w: %s", ErrDuplicateAttester, a.Attester())
		}
	}
	if _, err := safemath.Add(m.TotalStake(), stake); err != nil {
		return fmt.Errorf("%w: %w", ErrStakeOverflow, err)
	}

	m.entries = append(m.entries, attested{
		attestation: a,
		stake:       stake,
	})
	return nil
}

func (m *MultiSigAttestation) targets(a *CrossChainAttestation) bool {
	return a.TargetChain() == m.TargetChain &&
		a.TargetBlockHash() == m.TargetBlockHash &&
		a.TargetBlockNumber() == m.TargetBlockNumber
}

// Attestations returns the attestations in the order they were added.
func (m *MultiSigAttestation) Attestations() []*CrossChainAttestation {
	attestations := make([]*CrossChainAttestation, len(m.entries))
	for i, entry := range m.entries {
		attestations[i] = entry.attestation
	}
	return attestations
}

func (m *MultiSigAttestation) Len() int {
	return len(m.entries)
}

// StakeOf returns the stake attester contributed with.
func (m *MultiSigAttestation) StakeOf(attester ids.NodeID) (uint64, bool) {
	for _, entry := range m.entries {
		if entry.attestation.Attester() == attester {
			return entry.stake, true
		}
	}
	return 0, false
}

// TotalStake sums the contributed stake. AddAttestation refuses entries that
// would overflow it.
func (m *MultiSigAttestation) TotalStake() uint64 {
	var total uint64
	for _, entry := range m.entries {
		total += entry.stake
	}
	return total
}

// MinFinality is the weakest level any attester claimed, Irreversible when
// there are none.
func (m *MultiSigAttestation) MinFinality() hotstuff.FinalityLevel {
	level := hotstuff.FinalityIrreversible
	for _, entry := range m.entries {
		level = min(level, entry.attestation.FinalityLevel())
	}
	return level
}

// MeetsThreshold requires requiredStake and at least Strong finality from
// every attester.
func (m *MultiSigAttestation) MeetsThreshold(requiredStake uint64) bool {
	return m.TotalStake() >= requiredStake && m.MinFinality() >= hotstuff.FinalityStrong
}

// Hash commits to the target block and every attestation, in order.
func (m *MultiSigAttestation) Hash() (ids.ID, error) {
	digest := multiSigDigest{
		TargetChain:       m.TargetChain,
		TargetBlockHash:   m.TargetBlockHash,
		TargetBlockNumber: m.TargetBlockNumber,
		Attestations:      make([]ids.ID, len(m.entries)),
	}
	for i, entry := range m.entries {
		h, err := entry.attestation.Hash()
		if err != nil {
			return ids.Empty, err
		}
		digest.Attestations[i] = h
	}
	b, err := Codec.Marshal(CodecVersion, &digest)
	if err != nil {
		return ids.Empty, err
	}
	return hash.ComputeHash256Array(b), nil
}
