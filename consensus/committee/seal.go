// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package committee

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/cache"
	"github.com/luxfi/cache/lru"
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/ids"
)

// VotingWeightScale is the weight of a proposer holding all committee stake.
const VotingWeightScale = 1_000_000

var (
	ErrSealEpochMismatch    = errors.New("seal epoch mismatch")
	ErrNotInCommittee       = errors.New("validator not in committee")
	ErrWrongProposer        = errors.New("wrong proposer for slot")
	ErrPPFAIndexMismatch    = errors.New("ppfa index mismatch")
	ErrStakeWeightMismatch  = errors.New("stake weight mismatch")
	ErrUnknownSealKey       = errors.New("no public key for sealer")
	ErrInvalidSealSignature = errors.New("invalid seal signature")
	ErrBlockMismatch        = errors.New("seal does not cover block")
)

type unsignedSeal struct {
	Slot        uint64     `serialize:"true"`
	PPFAIndex   uint32     `serialize:"true"`
	Validator   ids.NodeID `serialize:"true"`
	StakeWeight uint64     `serialize:"true"`
	Epoch       uint64     `serialize:"true"`
	BlockNumber uint64     `serialize:"true"`
	BlockHash   ids.ID     `serialize:"true"`
}

// Seal proves that a block was produced by the PPFA proposer of its slot.
type Seal struct {
	unsignedSeal `serialize:"true"`

	Signature []byte `serialize:"true"`
}

func NewSeal(slot uint64, member Member, epoch, blockNumber uint64, blockHash ids.ID) *Seal {
	return &Seal{
		unsignedSeal: unsignedSeal{
			Slot:        slot,
			PPFAIndex:   member.PPFAIndex,
			Validator:   member.NodeID,
			StakeWeight: member.Stake,
			Epoch:       epoch,
			BlockNumber: blockNumber,
			BlockHash:   blockHash,
		},
	}
}

func (s *Seal) Slot() uint64          { return s.unsignedSeal.Slot }
func (s *Seal) PPFAIndex() uint32     { return s.unsignedSeal.PPFAIndex }
func (s *Seal) Validator() ids.NodeID { return s.unsignedSeal.Validator }
func (s *Seal) StakeWeight() uint64   { return s.unsignedSeal.StakeWeight }
func (s *Seal) Epoch() uint64         { return s.unsignedSeal.Epoch }
func (s *Seal) BlockNumber() uint64   { return s.unsignedSeal.BlockNumber }
func (s *Seal) BlockHash() ids.ID     { return s.unsignedSeal.BlockHash }

// UnsignedBytes returns the bytes covered by the signature.
func (s *Seal) UnsignedBytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, &s.unsignedSeal)
}

func (s *Seal) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, s)
}

// ID is the hash of the signed seal.
func (s *Seal) ID() (ids.ID, error) {
	b, err := s.Bytes()
	if err != nil {
		return ids.Empty, err
	}
	return hash.ComputeHash256Array(b), nil
}

func (s *Seal) Sign(sk bls.Signer) error {
	unsignedBytes, err := s.UnsignedBytes()
	if err != nil {
		return err
	}
	sig, err := sk.Sign(unsignedBytes)
	if err != nil {
		return fmt.Errorf("failed to sign seal: %w", err)
	}
	s.Signature = bls.SignatureToBytes(sig)
	return nil
}

// VotingWeight scales the sealer's share of totalStake to VotingWeightScale.
// Every sealer weighs 1 when the committee has no stake.
func (s *Seal) VotingWeight(totalStake uint64) uint64 {
	if totalStake == 0 {
		return 1
	}
	weight := new(uint256.Int).Mul(uint256.NewInt(s.StakeWeight()), uint256.NewInt(VotingWeightScale))
	return weight.Div(weight, uint256.NewInt(totalStake)).Uint64()
}

// KeyLookup resolves a validator's BLS public key.
type KeyLookup interface {
	PublicKey(nodeID ids.NodeID) (*bls.PublicKey, bool)
}

// SealVerifier checks seals against one epoch's committee.
type SealVerifier struct {
	mu sync.RWMutex

	epoch      uint64
	members    []Member
	totalStake uint64
	keys       KeyLookup
	cacheSize  int
	verified   cache.Cacher[ids.ID, struct{}]
}

// NewSealVerifier verifies signatures only when keys is non-nil.
func NewSealVerifier(epoch uint64, members []Member, keys KeyLookup, cacheSize int) *SealVerifier {
	v := &SealVerifier{
		keys:      keys,
		cacheSize: cacheSize,
	}
	v.setCommittee(epoch, members)
	return v
}

func (v *SealVerifier) setCommittee(epoch uint64, members []Member) {
	v.epoch = epoch
	v.members = append([]Member(nil), members...)
	v.totalStake = totalStake(v.members)
	v.verified = lru.NewCache[ids.ID, struct{}](v.cacheSize)
}

// UpdateCommittee switches to a new epoch's committee and forgets every
// previously verified seal.
func (v *SealVerifier) UpdateCommittee(epoch uint64, members []Member) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.setCommittee(epoch, members)
}

func (v *SealVerifier) member(nodeID ids.NodeID) (Member, bool) {
	for _, member := range v.members {
		if member.NodeID == nodeID {
			return member, true
		}
	}
	return Member{}, false
}

func (v *SealVerifier) proposer(slot uint64) (Member, bool) {
	if len(v.members) == 0 {
		return Member{}, false
	}
	return v.members[slot%uint64(len(v.members))], true
}

// Verify checks the seal's epoch, that its sealer is the slot's expected
// proposer with the registered PPFA index and stake, and its signature.
func (v *SealVerifier) Verify(seal *Seal) error {
	sealID, err := seal.ID()
	if err != nil {
		return err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if _, ok := v.verified.Get(sealID); ok {
		return nil
	}

	if seal.Epoch() != v.epoch {
		return fmt.Errorf("%w: seal epoch %d, committee epoch %d", ErrSealEpochMismatch, seal.Epoch(), v.epoch)
	}
	member, ok := v.member(seal.Validator())
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInCommittee, seal.Validator())
	}
	expected, ok := v.proposer(seal.Slot())
	if !ok || expected.NodeID != seal.Validator() {
		return fmt.Errorf("%w: slot %d", ErrWrongProposer, seal.Slot())
	}
	if expected.PPFAIndex != seal.PPFAIndex() {
		return fmt.Errorf("%w: expected %d, got %d", ErrPPFAIndexMismatch, expected.PPFAIndex, seal.PPFAIndex())
	}
	if member.Stake != seal.StakeWeight() {
		return fmt.Errorf("%w: expected %d, got %d", ErrStakeWeightMismatch, member.Stake, seal.StakeWeight())
	}
	if v.keys != nil {
		if err := v.verifySignature(seal); err != nil {
			return err
		}
	}

	v.verified.Put(sealID, struct{}{})
	return nil
}

func (v *SealVerifier) verifySignature(seal *Seal) error {
	pk, ok := v.keys.PublicKey(seal.Validator())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSealKey, seal.Validator())
	}
	sig, err := bls.SignatureFromBytes(seal.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSealSignature, err)
	}
	unsignedBytes, err := seal.UnsignedBytes()
	if err != nil {
		return err
	}
	if !bls.Verify(pk, sig, unsignedBytes) {
		return ErrInvalidSealSignature
	}
	return nil
}

// VerifyBlock verifies seal and that it covers the given block.
func (v *SealVerifier) VerifyBlock(seal *Seal, blockHash ids.ID, blockNumber uint64) error {
	if seal.BlockHash() != blockHash || seal.BlockNumber() != blockNumber {
		return fmt.Errorf("%w: sealed %s at %d", ErrBlockMismatch, seal.BlockHash(), seal.BlockNumber())
	}
	return v.Verify(seal)
}

func (v *SealVerifier) VotingWeight(seal *Seal) uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return seal.VotingWeight(v.totalStake)
}

// ShouldPropose reports whether nodeID is the proposer of slot.
func (v *SealVerifier) ShouldPropose(nodeID ids.NodeID, slot uint64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	proposer, ok := v.proposer(slot)
	return ok && proposer.NodeID == nodeID
}

// NewSealVerifier snapshots the current committee into a verifier.
func (m *Manager) NewSealVerifier(keys KeyLookup) *SealVerifier {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return NewSealVerifier(m.epoch, m.committee, keys, m.config.SealCacheSize)
}

// CreateSeal builds an unsigned seal for nodeID's block in slot. It fails
// unless nodeID is the slot's proposer.
func (m *Manager) CreateSeal(nodeID ids.NodeID, slot, blockNumber uint64, blockHash ids.ID) (*Seal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.committee) == 0 {
		return nil, ErrEmptyCommittee
	}
	proposer := m.committee[slot%uint64(len(m.committee))]
	if proposer.NodeID != nodeID {
		return nil, fmt.Errorf("%w: %s is not the proposer of slot %d", ErrWrongProposer, nodeID, slot)
	}
	return NewSeal(slot, proposer, m.epoch, blockNumber, blockHash), nil
}
