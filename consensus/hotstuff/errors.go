// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import "errors"

var (
	ErrInvalidVote            = errors.New("invalid vote")
	ErrDuplicateVote          = errors.New("duplicate vote")
	ErrInvalidPhaseTransition = errors.New("invalid phase transition")
	ErrInsufficientVotes      = errors.New("insufficient votes")
	ErrInsufficientStake      = errors.New("insufficient stake")
	ErrBlockNotFound          = errors.New("block not found")
	ErrBlockAlreadyTracked    = errors.New("block already in consensus")
	ErrBlockFinalized         = errors.New("block already finalized")
	ErrTooManyBlocks          = errors.New("too many blocks in consensus")
	ErrInvalidCertificate     = errors.New("invalid certificate")
	ErrDuplicateCertificate   = errors.New("duplicate certificate")
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrValidatorExcluded      = errors.New("validator excluded from consensus")
	ErrSafetyViolation        = errors.New("safety violation")
)
