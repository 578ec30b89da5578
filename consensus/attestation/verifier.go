// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package attestation

import (
	"errors"
	"fmt"

	"github.com/luxfi/cache"
	"github.com/luxfi/cache/lru"
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/ids"
)

const DefaultVerifiedCacheSize = 2048

var (
	ErrUnknownAttester  = errors.New("no public key for attester")
	ErrMissingSignature = errors.New("attestation is not signed")
	ErrInvalidSignature = errors.New("invalid attestation signature")
)

// Verifier checks the signature of a single attestation.
type Verifier interface {
	VerifyAttestation(a *CrossChainAttestation) error
}

// KeyLookup resolves an attester's BLS public key.
type KeyLookup interface {
	PublicKey(nodeID ids.NodeID) (*bls.PublicKey, bool)
}

var _ Verifier = (*SignatureVerifier)(nil)

// SignatureVerifier verifies BLS signatures over attestations and remembers
// which attestations already verified.
type SignatureVerifier struct {
	keys     KeyLookup
	verified cache.Cacher[ids.ID, struct{}]
}

func NewSignatureVerifier(keys KeyLookup, cacheSize int) *SignatureVerifier {
	if cacheSize <= 0 {
		cacheSize = DefaultVerifiedCacheSize
	}
	return &SignatureVerifier{
		keys:     keys,
		verified: lru.NewCache[ids.ID, struct{}](cacheSize),
	}
}

func (v *SignatureVerifier) VerifyAttestation(a *CrossChainAttestation) error {
	b, err := a.Bytes()
	if err != nil {
		return err
	}
	// Cached by the signed bytes so a different signature over the same
	// claim is verified again.
	signedID := ids.ID(hash.ComputeHash256Array(b))
	if _, ok := v.verified.Get(signedID); ok {
		return nil
	}

	pk, ok := v.keys.PublicKey(a.Attester())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAttester, a.Attester())
	}
	if len(a.Signature) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingSignature, a.Attester())
	}
	sig, err := bls.SignatureFromBytes(a.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	unsignedBytes, err := a.UnsignedBytes()
	if err != nil {
		return err
	}
	if !bls.Verify(pk, sig, unsignedBytes) {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, a.Attester())
	}

	v.verified.Put(signedID, struct{}{})
	return nil
}
