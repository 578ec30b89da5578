// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import (
	"fmt"
	"time"
)

// Phase is a step of the 4-phase HotStuff protocol.
type Phase uint8

const (
	Prepare Phase = iota
	PreCommit
	Commit
	Decide
)

// NumPhases is the number of protocol phases.
const NumPhases = 4

func (p Phase) String() string {
	switch p {
	case Prepare:
		return "prepare"
	case PreCommit:
		return "precommit"
	case Commit:
		return "commit"
	case Decide:
		return "decide"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the four protocol phases.
func (p Phase) Valid() bool {
	return p <= Decide
}

// Next returns the phase that follows p. Decide has no successor.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case Prepare:
		return PreCommit, true
	case PreCommit:
		return Commit, true
	case Commit:
		return Decide, true
	default:
		return p, false
	}
}

// IsValidTransition is the legal transition table. Only single forward steps
// are allowed.
func IsValidTransition(from, to Phase) bool {
	switch {
	case from == Prepare && to == PreCommit:
		return true
	case from == PreCommit && to == Commit:
		return true
	case from == Commit && to == Decide:
		return true
	default:
		return false
	}
}

// PhaseTimeout scales base by the phase's position in the protocol.
func PhaseTimeout(p Phase, base time.Duration) time.Duration {
	switch p {
	case Prepare:
		return base
	case PreCommit:
		return 2 * base
	case Commit:
		return 3 * base
	default:
		return 4 * base
	}
}
