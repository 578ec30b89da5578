// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package signer binds HotStuff votes and certificates to BLS keys.
package signer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"

	"github.com/luxfi/asf/consensus/hotstuff"
)

var (
	_ hotstuff.SignatureScheme = (*Scheme)(nil)

	ErrUnknownValidator   = errors.New("unknown validator")
	ErrMissingSignature   = errors.New("missing signature")
	ErrMissingSigners     = errors.New("certificate lists no signers")
	ErrDuplicateSigner    = errors.New("duplicate signer")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrNothingToAggregate = errors.New("no signatures to aggregate")
)

// Scheme verifies BLS signatures against a registry of validator keys.
type Scheme struct {
	mu   sync.RWMutex
	keys map[ids.NodeID]*bls.PublicKey
}

func NewScheme() *Scheme {
	return &Scheme{
		keys: make(map[ids.NodeID]*bls.PublicKey),
	}
}

func (s *Scheme) Register(nodeID ids.NodeID, pk *bls.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[nodeID] = pk
}

// RegisterCompressed registers a validator from its compressed public key.
func (s *Scheme) RegisterCompressed(nodeID ids.NodeID, pkBytes []byte) error {
	pk, err := bls.PublicKeyFromCompressedBytes(pkBytes)
	if err != nil {
		return fmt.Errorf("failed to parse public key of %s: %w", nodeID, err)
	}
	s.Register(nodeID, pk)
	return nil
}

func (s *Scheme) Unregister(nodeID ids.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.keys, nodeID)
}

func (s *Scheme) PublicKey(nodeID ids.NodeID) (*bls.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pk, ok := s.keys[nodeID]
	return pk, ok
}

func (s *Scheme) VerifyVote(vote *hotstuff.Vote) error {
	pk, ok := s.PublicKey(vote.Validator)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, vote.Validator)
	}
	if len(vote.Signature) == 0 {
		return ErrMissingSignature
	}
	sig, err := bls.SignatureFromBytes(vote.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	msg, err := vote.Message()
	if err != nil {
		return err
	}
	if !bls.Verify(pk, sig, msg) {
		return fmt.Errorf("%w: vote from %s", ErrInvalidSignature, vote.Validator)
	}
	return nil
}

// VerifyCertificate checks the aggregate signature against the aggregate
// public key of the listed signers.
func (s *Scheme) VerifyCertificate(cert *hotstuff.Certificate) error {
	if len(cert.Signers) == 0 {
		return ErrMissingSigners
	}
	if len(cert.Signature) == 0 {
		return ErrMissingSignature
	}

	s.mu.RLock()
	seen := set.NewSet[ids.NodeID](len(cert.Signers))
	pks := make([]*bls.PublicKey, 0, len(cert.Signers))
	for _, nodeID := range cert.Signers {
		if seen.Contains(nodeID) {
			s.mu.RUnlock()
			return fmt.Errorf("%w: %s", ErrDuplicateSigner, nodeID)
		}
		seen.Add(nodeID)

		pk, ok := s.keys[nodeID]
		if !ok {
			s.mu.RUnlock()
			return fmt.Errorf("%w: %s", ErrUnknownValidator, nodeID)
		}
		pks = append(pks, pk)
	}
	s.mu.RUnlock()

	aggPK, err := bls.AggregatePublicKeys(pks)
	if err != nil {
		return err
	}
	sig, err := bls.SignatureFromBytes(cert.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	msg, err := cert.Message()
	if err != nil {
		return err
	}
	if !bls.Verify(aggPK, sig, msg) {
		return fmt.Errorf("%w: certificate from %s", ErrInvalidSignature, cert.Issuer)
	}
	return nil
}

func (*Scheme) Aggregate(signatures [][]byte) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, ErrNothingToAggregate
	}
	sigs := make([]*bls.Signature, len(signatures))
	for i, sigBytes := range signatures {
		sig, err := bls.SignatureFromBytes(sigBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: signature %d: %w", ErrInvalidSignature, i, err)
		}
		sigs[i] = sig
	}
	aggSig, err := bls.AggregateSignatures(sigs)
	if err != nil {
		return nil, err
	}
	return bls.SignatureToBytes(aggSig), nil
}

// Signer signs votes on behalf of one validator.
type Signer struct {
	nodeID ids.NodeID
	sk     bls.Signer
}

func New(nodeID ids.NodeID, sk bls.Signer) *Signer {
	return &Signer{
		nodeID: nodeID,
		sk:     sk,
	}
}

func (s *Signer) NodeID() ids.NodeID {
	return s.nodeID
}

func (s *Signer) PublicKey() *bls.PublicKey {
	return s.sk.PublicKey()
}

// SignVote fills in the validator and signature of vote.
func (s *Signer) SignVote(vote *hotstuff.Vote) error {
	vote.Validator = s.nodeID
	msg, err := vote.Message()
	if err != nil {
		return err
	}
	sig, err := s.sk.Sign(msg)
	if err != nil {
		return fmt.Errorf("failed to sign vote: %w", err)
	}
	vote.Signature = bls.SignatureToBytes(sig)
	return nil
}
