// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package longrange

import (
	"fmt"

	"github.com/luxfi/ids"
)

// Anchor pins the hash of a block. The genesis anchor is the root of trust;
// later social anchors are added through governance.
type Anchor struct {
	BlockNumber    uint64 `serialize:"true"`
	BlockHash      ids.ID `serialize:"true"`
	AuthoritySetID uint64 `serialize:"true"`
	Description    string `serialize:"true"`
	Timestamp      uint64 `serialize:"true"`
}

// Genesis returns the anchor of block 0 under authority set 0.
func Genesis(hash ids.ID) Anchor {
	return Anchor{
		BlockHash:   hash,
		Description: "genesis",
	}
}

func (a Anchor) String() string {
	return fmt.Sprintf("anchor %d (%s) set %d", a.BlockNumber, a.BlockHash, a.AuthoritySetID)
}

// BlockRef is a (number, hash) pair of a candidate chain.
type BlockRef struct {
	Number uint64
	Hash   ids.ID
}
