// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import (
	"fmt"

	"github.com/luxfi/ids"
)

// signingPayload is what validators sign for a (block, phase, epoch). Every
// vote of a quorum signs the same bytes so the signatures aggregate.
type signingPayload struct {
	BlockHash   ids.ID `serialize:"true"`
	BlockNumber uint64 `serialize:"true"`
	Phase       Phase  `serialize:"true"`
	Epoch       uint64 `serialize:"true"`
}

// SigningMessage returns the canonical bytes signed by every voter of the
// given block, phase and epoch.
func SigningMessage(blockHash ids.ID, blockNumber uint64, phase Phase, epoch uint64) ([]byte, error) {
	return Codec.Marshal(CodecVersion, &signingPayload{
		BlockHash:   blockHash,
		BlockNumber: blockNumber,
		Phase:       phase,
		Epoch:       epoch,
	})
}

// Vote is one validator's attestation for a block in a phase.
type Vote struct {
	BlockHash   ids.ID     `serialize:"true"`
	BlockNumber uint64     `serialize:"true"`
	Phase       Phase      `serialize:"true"`
	Validator   ids.NodeID `serialize:"true"`
	StakeWeight uint64     `serialize:"true"`
	Epoch       uint64     `serialize:"true"`
	// Timestamp is in unix milliseconds.
	Timestamp uint64 `serialize:"true"`
	Signature []byte `serialize:"true"`
}

// Message returns the bytes the vote's signature covers.
func (v *Vote) Message() ([]byte, error) {
	return SigningMessage(v.BlockHash, v.BlockNumber, v.Phase, v.Epoch)
}

// Bytes returns the canonical encoding of the vote.
func (v *Vote) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, v)
}

// Verify performs the stateless checks on a vote against the current epoch.
// Votes from any other epoch are stale or premature and are rejected.
func (v *Vote) Verify(currentEpoch uint64) error {
	switch {
	case !v.Phase.Valid():
		return fmt.Errorf("%w: unknown %s", ErrInvalidVote, v.Phase)
	case v.StakeWeight == 0:
		return fmt.Errorf("%w: zero stake weight from %s", ErrInvalidVote, v.Validator)
	case v.Epoch != currentEpoch:
		return fmt.Errorf("%w: epoch %d, current epoch %d", ErrInvalidVote, v.Epoch, currentEpoch)
	default:
		return nil
	}
}
