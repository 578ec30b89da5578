// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import "fmt"

// FinalityLevel is the ascending confidence a block has accumulated.
type FinalityLevel uint8

const (
	FinalityNone FinalityLevel = iota
	FinalityWeak
	FinalityModerate
	FinalityStrong
	FinalityIrreversible
)

// Certificate counts at which each level is reached.
const (
	WeakCertificates         = 10
	ModerateCertificates     = 20
	StrongCertificates       = 50
	IrreversibleCertificates = 100
)

// FinalityLevelFromCount maps a block's total certificate count to a level.
func FinalityLevelFromCount(count int) FinalityLevel {
	switch {
	case count >= IrreversibleCertificates:
		return FinalityIrreversible
	case count >= StrongCertificates:
		return FinalityStrong
	case count >= ModerateCertificates:
		return FinalityModerate
	case count >= WeakCertificates:
		return FinalityWeak
	default:
		return FinalityNone
	}
}

// IsFinalized reports whether the level grants any finality at all.
func (l FinalityLevel) IsFinalized() bool {
	return l > FinalityNone
}

func (l FinalityLevel) String() string {
	switch l {
	case FinalityNone:
		return "none"
	case FinalityWeak:
		return "weak"
	case FinalityModerate:
		return "moderate"
	case FinalityStrong:
		return "strong"
	case FinalityIrreversible:
		return "irreversible"
	default:
		return fmt.Sprintf("finality(%d)", uint8(l))
	}
}
